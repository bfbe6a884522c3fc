// Package version holds build-time identifying information, set via
// ldflags so a single binary can report exactly what it was built from.
package version

var (
	// Version is the release tag, or "dev" for a local build.
	Version = "dev"
	// Commit is the short git commit hash of the build.
	Commit = "unknown"
	// BuildTime is the RFC3339 timestamp of the build.
	BuildTime = "unknown"
)
