// Package versions provides build version information.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Version information set by build using -ldflags.
var (
	// Version is the current version of runtimed.
	Version = "dev"
	// Commit is the git commit hash of the build.
	Commit = "unknown"
	// BuildDate is the date the binary was built.
	BuildDate = "unknown"
)

// VersionInfo represents the version information of the broker.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information, falling back to module
// build info when ldflags were not set.
func GetVersionInfo() VersionInfo {
	if Version == "dev" || Commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			applyBuildInfo(info)
		}
	}

	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func applyBuildInfo(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = strings.TrimPrefix(info.Main.Version, "v")
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = setting.Value
			}
		case "vcs.time":
			if BuildDate == "unknown" {
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					BuildDate = t.Format(time.RFC3339)
				}
			}
		}
	}
}
