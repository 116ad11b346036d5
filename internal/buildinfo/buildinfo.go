// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/Waghib/Speech-to-TODO-List/internal/buildinfo.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// startTime records when the process started.
var startTime = time.Now()

// BuildInfo returns the compile-time stamps.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
	}
}

// RuntimeInfo returns facts about the running process.
func RuntimeInfo() map[string]string {
	return map[string]string{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Info merges [BuildInfo] and [RuntimeInfo].
func Info() map[string]string {
	info := BuildInfo()
	for k, v := range RuntimeInfo() {
		info[k] = v
	}
	return info
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return "todoagent/" + Version
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("todoagent %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
