// Aozan - sequencer run pipeline orchestrator
package main

import (
	"os"

	"github.com/GenomiqueENS/aozan/internal/cli"
	"github.com/GenomiqueENS/aozan/internal/version"
)

// Version information, overridden with -ldflags at release time
var (
	Version   = "v3.0.0"
	BuildTime = "2026-10-01"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
