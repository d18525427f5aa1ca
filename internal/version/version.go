// Package version exposes build identification for the daemon and its
// control utilities.
package version

import "fmt"

var (
	// Version is the current firmware version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the one-line version banner printed by --version.
func String(app string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", app, Version, GitSHA, BuildTime)
}
