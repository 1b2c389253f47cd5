// Package plan holds the static configuration of a provisioning run: which
// packages to install, which files the checkout must contain, where the agent
// config lives and which environment the launcher exports.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/savaki/ec2-bootstrap/internal/constants"
	bootstraperrors "github.com/savaki/ec2-bootstrap/internal/errors"
	"github.com/savaki/ec2-bootstrap/internal/models"
	"gopkg.in/yaml.v3"
)

// Plan is the full set of static inputs to a run
type Plan struct {
	RepositoryURL  string                 `yaml:"repository_url"`
	TargetDir      string                 `yaml:"target_dir"`
	User           string                 `yaml:"user,omitempty"`
	DefaultRegion  string                 `yaml:"default_region"`
	PackageManager string                 `yaml:"package_manager"`
	SystemPackages []string               `yaml:"system_packages"`
	RequiredFiles  models.RequiredFileSet `yaml:"required_files"`
	Metadata       Metadata               `yaml:"metadata"`
	Python         Python                 `yaml:"python"`
	Dependencies   Dependencies           `yaml:"dependencies"`
	Agent          Agent                  `yaml:"agent"`
	Launcher       Launcher               `yaml:"launcher"`
}

// Metadata configures access to the instance metadata service
type Metadata struct {
	Endpoint        string `yaml:"endpoint,omitempty"` // overrides the link-local default
	AllowV1Fallback bool   `yaml:"allow_v1_fallback"`  // permit anonymous reads when no token can be obtained
}

// Python describes the interpreter and the canonical aliases pointing at it
type Python struct {
	Version         string   `yaml:"version"`
	Packages        []string `yaml:"packages"`
	Binary          string   `yaml:"binary"`            // versioned interpreter, e.g. /usr/bin/python3.11
	PipBinary       string   `yaml:"pip_binary"`        // versioned pip, e.g. /usr/bin/pip3.11
	BinDir          string   `yaml:"bin_dir"`           // directory receiving the python and pip aliases
	PipBootstrapURL string   `yaml:"pip_bootstrap_url"` // used when the OS has no pip for Version
}

// Dependencies lists the application's Python packages
type Dependencies struct {
	Packages      []string `yaml:"packages"`
	VerifyImports bool     `yaml:"verify_imports"`
	Imports       []string `yaml:"imports"`
}

// ObjectSource is an S3 object
type ObjectSource struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	Region    string `yaml:"region"`
	Anonymous bool   `yaml:"anonymous"` // unsigned requests; the bucket must be public
}

// Agent describes the CloudWatch agent and its templated configuration
type Agent struct {
	ConfigTemplate string       `yaml:"config_template"` // relative to the checkout
	ConfigPath     string       `yaml:"config_path"`
	Placeholder    string       `yaml:"placeholder"`
	CtlPath        string       `yaml:"ctl_path"`
	ServiceName    string       `yaml:"service_name"`
	Package        ObjectSource `yaml:"package"`
}

// EnvVar is a single exported variable of the launcher
type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Launcher describes the generated start script
type Launcher struct {
	Path        string   `yaml:"path"` // relative to the target dir
	Entrypoint  string   `yaml:"entrypoint"`
	Wrapper     string   `yaml:"wrapper,omitempty"`
	Environment []EnvVar `yaml:"environment"`
}

const (
	serviceName   = "weather-forecaster-strands-agent"
	logGroupName  = "strands-agent-logs"
	deploymentEnv = "ec2:default"
)

// Default returns the compiled-in plan for Amazon Linux 2023 hosts
func Default() Plan {
	return Plan{
		RepositoryURL:  constants.DefaultRepositoryURL,
		TargetDir:      constants.DefaultTargetDir,
		User:           constants.DefaultUser,
		DefaultRegion:  constants.DefaultRegion,
		PackageManager: "dnf",
		SystemPackages: []string{"git", "gcc", "wget", "unzip"},
		RequiredFiles: models.RequiredFileSet{
			"app.py",
			"metrics_utils.py",
			"CW-AgentConfig.json",
		},
		Metadata: Metadata{
			AllowV1Fallback: true,
		},
		Python: Python{
			Version:         "3.11",
			Packages:        []string{"python3.11", "python3.11-pip", "python3.11-devel"},
			Binary:          "/usr/bin/python3.11",
			PipBinary:       "/usr/bin/pip3.11",
			BinDir:          "/usr/bin",
			PipBootstrapURL: "https://bootstrap.pypa.io/get-pip.py",
		},
		Dependencies: Dependencies{
			Packages: []string{
				"strands-agents",
				"strands-agents-tools",
				"opentelemetry-api",
				"opentelemetry-sdk",
				"opentelemetry-exporter-otlp",
				"aws-opentelemetry-distro",
				"boto3",
				"requests",
			},
			VerifyImports: true,
			Imports: []string{
				"strands",
				"strands_tools",
				"opentelemetry",
				"boto3",
				"requests",
			},
		},
		Agent: Agent{
			ConfigTemplate: "CW-AgentConfig.json",
			ConfigPath:     constants.AgentConfigPath,
			Placeholder:    constants.AgentConfigPlaceholder,
			CtlPath:        constants.AgentCtlPath,
			ServiceName:    constants.AgentServiceName,
			Package: ObjectSource{
				Bucket:    "amazoncloudwatch-agent",
				Key:       "amazon_linux/amd64/latest/amazon-cloudwatch-agent.rpm",
				Region:    "us-east-1",
				Anonymous: true,
			},
		},
		Launcher: Launcher{
			Path:       constants.LauncherName,
			Entrypoint: "app.py",
			Wrapper:    "opentelemetry-instrument",
			Environment: []EnvVar{
				{Name: "OTEL_METRICS_EXPORTER", Value: "none"},
				{Name: "OTEL_LOGS_EXPORTER", Value: "none"},
				{Name: "OTEL_AWS_APPLICATION_SIGNALS_ENABLED", Value: "true"},
				{Name: "OTEL_PYTHON_DISTRO", Value: "aws_distro"},
				{Name: "OTEL_PYTHON_CONFIGURATOR", Value: "aws_configurator"},
				{Name: "OTEL_EXPORTER_OTLP_PROTOCOL", Value: "http/protobuf"},
				{Name: "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", Value: "http://localhost:4316/v1/traces"},
				{Name: "OTEL_AWS_APPLICATION_SIGNALS_EXPORTER_ENDPOINT", Value: "http://localhost:4316/v1/metrics"},
				{Name: "OTEL_RESOURCE_ATTRIBUTES", Value: ResourceAttributes(serviceName, logGroupName, deploymentEnv)},
			},
		},
	}
}

// ResourceAttributes builds the OTEL_RESOURCE_ATTRIBUTES value
func ResourceAttributes(service, logGroup, environment string) string {
	return fmt.Sprintf("service.name=%s,aws.log.group.names=%s,deployment.environment=%s", service, logGroup, environment)
}

// Load reads a YAML plan from path. Fields absent from the file keep their
// default values.
func Load(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML plan on top of Default and validates the result
func Parse(data []byte) (Plan, error) {
	p := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Validate checks the invariants later stages rely on
func (p Plan) Validate() error {
	var problems []string

	if p.TargetDir == "" {
		problems = append(problems, "target_dir is required")
	}
	if len(p.RequiredFiles) == 0 {
		problems = append(problems, "required_files must not be empty")
	}
	for _, f := range p.RequiredFiles {
		if f == "" || strings.HasPrefix(f, "/") || strings.Contains(f, "..") {
			problems = append(problems, fmt.Sprintf("required file %q must be a relative path inside the checkout", f))
		}
	}
	if p.PackageManager == "" {
		problems = append(problems, "package_manager is required")
	}
	if p.Python.Binary == "" || p.Python.PipBinary == "" || p.Python.BinDir == "" {
		problems = append(problems, "python.binary, python.pip_binary and python.bin_dir are required")
	}
	if p.Agent.ConfigTemplate == "" || p.Agent.ConfigPath == "" {
		problems = append(problems, "agent.config_template and agent.config_path are required")
	}
	if p.Agent.Placeholder == "" {
		problems = append(problems, "agent.placeholder is required")
	}
	if p.Launcher.Path == "" || p.Launcher.Entrypoint == "" {
		problems = append(problems, "launcher.path and launcher.entrypoint are required")
	}

	seen := map[string]bool{}
	for _, v := range p.Launcher.Environment {
		if !isEnvName(v.Name) {
			problems = append(problems, fmt.Sprintf("launcher environment name %q is not a valid variable name", v.Name))
			continue
		}
		if seen[v.Name] {
			problems = append(problems, fmt.Sprintf("launcher environment variable %s is declared more than once", v.Name))
		}
		seen[v.Name] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", bootstraperrors.ErrInvalidPlan, strings.Join(problems, "; "))
	}
	return nil
}

// LauncherPath is the absolute path of the generated start script
func (p Plan) LauncherPath() string {
	return models.ProvisioningContext{TargetDir: p.TargetDir}.Path(p.Launcher.Path)
}

// Marshal renders the plan as YAML
func (p Plan) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return buf.Bytes(), nil
}

func isEnvName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
