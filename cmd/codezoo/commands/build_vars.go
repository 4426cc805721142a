package commands

// These variables are set via ldflags during build.
// Example: go build -ldflags "-X github.com/codezoo/codezoo/cmd/codezoo/commands.version=1.0.0".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
