package orchestrator

import "fmt"

// Stage ids, in execution order
const (
	StageResolveMetadata     = "resolve-metadata"
	StageLoadSettings        = "load-settings"
	StageInstallPackages     = "install-packages"
	StageFetchSource         = "fetch-source"
	StageVerifySources       = "verify-sources"
	StageInstallDependencies = "install-dependencies"
	StageTemplateAgentConfig = "template-agent-config"
	StageActivateAgent       = "activate-agent"
	StageGenerateLauncher    = "generate-launcher"
	StageAssignOwnership     = "assign-ownership"
)

// StageError records which stage halted the run
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
