// Package version holds the build version, set at link time.
package version

var (
	// Version is the release version, overridden via -ldflags
	Version = "dev"
	// Commit is the git commit the binary was built from
	Commit = "unknown"
)
