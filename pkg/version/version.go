// Package version provides build and version information for Engram.
package version

import (
	"fmt"
	"runtime"
)

// Version is set via ldflags at build time:
// -X github.com/engram-dev/engram/pkg/version.Version=v1.2.3
var Version = "dev"

var (
	// Commit is the git commit hash, set via ldflags.
	Commit = "unknown"

	// Date is the build date in RFC3339 format, set via ldflags.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns a formatted version string with all build info.
func String() string {
	return fmt.Sprintf("engram %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
