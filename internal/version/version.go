// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/datacure/livejobs/internal/version.Version=1.0.0 \
//	                   -X github.com/datacure/livejobs/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/datacure/livejobs/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

// AppName is reported by the jobfeed root endpoint and the binaries' -version flag.
const AppName = "DataCure AI Validation API"

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"

	// BuildTime is the UTC build timestamp (ISO 8601)
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
