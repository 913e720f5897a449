// Package version provides build version information for the application.
// This is a separate package to avoid import cycles between cli and pipeline packages.
package version

import "github.com/GenomiqueENS/aozan/internal/constants"

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v3.0.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

// WelcomeMessage returns the banner logged when an invocation starts working.
func WelcomeMessage() string {
	return constants.AppName + " " + Version + " (" + BuildTime + ")"
}
