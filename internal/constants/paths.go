package constants

// Fixed host locations used when no plan file overrides them
const (
	// DefaultUser owns the application checkout and runs the launcher
	DefaultUser = "ec2-user"

	// DefaultTargetDir is where the application repository is cloned
	DefaultTargetDir = "/home/" + DefaultUser + "/agentic-ai-app"

	// DefaultRepositoryURL is cloned when no repository is given on the command line
	DefaultRepositoryURL = "https://github.com/aws-samples/sample-strands-agent-with-cloudwatch-observability.git"

	// DefaultRegion is used when the metadata service cannot report a region
	DefaultRegion = "us-east-1"

	// DefaultLogFile receives a timestamped copy of every progress line
	DefaultLogFile = "/var/log/ec2-bootstrap.log"

	// AgentHome is the install root of the CloudWatch agent package
	AgentHome = "/opt/aws/amazon-cloudwatch-agent"

	// AgentConfigPath is the system location of the templated agent config
	AgentConfigPath = AgentHome + "/etc/amazon-cloudwatch-agent.json"

	// AgentCtlPath is the agent control script shipped with the package
	AgentCtlPath = AgentHome + "/bin/amazon-cloudwatch-agent-ctl"

	// AgentServiceName is the systemd unit of the agent
	AgentServiceName = "amazon-cloudwatch-agent"

	// AgentConfigPlaceholder is the example instance id embedded in the config template
	AgentConfigPlaceholder = "i-1234567890abcdef0"

	// LauncherName is the generated start script, relative to the target dir
	LauncherName = "start-app.sh"
)
