// Package version provides build version information stamped into run summaries and client info
package version

// BuildInfo holds version information about the binary
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information.
// Set via -ldflags "-X 'nutrisage/internal/core/version.version=v0.1.0' -X 'nutrisage/internal/core/version.commit=abcd'"
func Info() BuildInfo {
	return BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// String renders version and commit for logs and --version
func (b BuildInfo) String() string { return b.Version + " (" + b.Commit + ", " + b.Date + ")" }

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
