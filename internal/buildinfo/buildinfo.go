// Package buildinfo carries the version stamped into the clawnetes binary.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// These values are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the JSON form printed by `clawnetes --version --json`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version,omitempty"`
}

// Current reports the stamped values plus the toolchain version, falling
// back to the module version when the binary was built with `go install`.
func Current() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	return info
}

func String() string {
	return fmt.Sprintf("clawnetes version=%s commit=%s date=%s", Version, Commit, Date)
}
