// Package version holds build information injected through ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Name is the binary name.
const Name = "simnet"

// Set with -ldflags "-X github.com/goclaw/simnet/pkg/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the build information as a map.
func Info() map[string]string {
	return map[string]string{
		"name":      Name,
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
		"goVersion": GoVersion,
	}
}

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)", Name, Version, GitCommit, BuildTime, GoVersion)
}
