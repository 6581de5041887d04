// Package version reports how a sagitta binary was built.
//
// Release builds stamp the variables with the linker:
//
//	go build -ldflags "\
//	  -X github.com/llamaha/sagitta-sub001/pkg/version.Version=1.4.0 \
//	  -X github.com/llamaha/sagitta-sub001/pkg/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/llamaha/sagitta-sub001/pkg/version.Date=$(date -u +%FT%TZ)" ./cmd/sagitta
//
// Unstamped builds fill Commit and Date from the VCS settings the Go
// toolchain embeds, when present.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Stamped by the linker. Empty Commit and Date mean "not stamped".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

const unknown = "unknown"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// Short returns the release version alone.
func Short() string {
	return Version
}

// Get collects the stamped values, falling back to embedded VCS data.
func Get() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	if info.Commit == "" {
		info.Commit = unknown
	}
	if info.Date == "" {
		info.Date = unknown
	}
	return info
}

func applyVCS(info *BuildInfo, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String renders the build on one line, e.g.
// "sagitta 1.4.0 (3f2c9a1b0d4e, 2026-01-02T10:00:00Z, go1.23.1 linux/amd64)".
func (b BuildInfo) String() string {
	commit := b.Commit
	if b.Dirty {
		commit += "+dirty"
	}
	parts := []string{commit, b.Date, b.GoVersion + " " + b.OS + "/" + b.Arch}
	return fmt.Sprintf("sagitta %s (%s)", b.Version, strings.Join(parts, ", "))
}
