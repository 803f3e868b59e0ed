// Package version reports build information set with -ldflags, falling back
// to the VCS stamp the Go toolchain embeds in the binary.
//
//	go build -ldflags "-X github.com/conneroisu/pig/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains version and build information.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// Get collects the build information of the running binary.
func Get() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "" || info.Version == "dev" {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			info.Version = v
		}
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" || info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime.IsZero() {
				info.BuildTime, _ = time.Parse(time.RFC3339, s.Value)
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// IsRelease reports whether the binary carries a real version number.
func (b BuildInfo) IsRelease() bool {
	return b.Version != "dev" && !strings.HasPrefix(b.Version, "dev-")
}

// Short returns the version with an abbreviated commit, e.g. "v1.2.0 (3f2a9c1)".
func (b BuildInfo) Short() string {
	s := b.Version
	if len(b.GitCommit) >= 7 && b.GitCommit != "unknown" {
		s += " (" + b.GitCommit[:7] + ")"
	}
	if b.Dirty {
		s += " (dirty)"
	}
	return s
}

// String returns one "Label: value" line per known field.
func (b BuildInfo) String() string {
	lines := []string{"Version: " + b.Version}
	if b.GitCommit != "unknown" && b.GitCommit != "" {
		lines = append(lines, "Commit: "+b.GitCommit)
	}
	if !b.BuildTime.IsZero() {
		lines = append(lines, "Built: "+b.BuildTime.UTC().Format(time.RFC3339))
	}
	lines = append(lines,
		"Go: "+b.GoVersion,
		"Platform: "+b.Platform,
		fmt.Sprintf("Release: %t", b.IsRelease()),
	)
	return strings.Join(lines, "\n")
}
