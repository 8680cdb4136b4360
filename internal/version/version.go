// Package version exposes build version info.
package version

import (
	"fmt"
	"runtime/debug"
)

// Overridable via -ldflags at build time.
var (
	Version    = "dev"
	CommitHash = ""
)

// Info returns the version, with a short commit hash when one is known
// either from ldflags or from the module build info.
func Info() string {
	if CommitHash == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					CommitHash = setting.Value
				}
			}
		}
	}
	if CommitHash == "" {
		return Version
	}
	short := CommitHash
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}
