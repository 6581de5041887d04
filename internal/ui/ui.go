// Package ui renders sync progress on the terminal.
package ui

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of a sync.
type Stage int

const (
	StagePlanning Stage = iota
	StageIndexing
	StageRemoving
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StagePlanning:
		return "Planning"
	case StageIndexing:
		return "Indexing"
	case StageRemoving:
		return "Removing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StagePlanning:
		return "PLAN"
	case StageIndexing:
		return "INDEX"
	case StageRemoving:
		return "REMOVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update.
type ProgressEvent struct {
	Repo        string
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a problem with one file or chunk.
type ErrorEvent struct {
	Repo   string
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished sync.
type CompletionStats struct {
	Repo     string
	Mode     string
	Reason   string
	Files    int
	Removed  int
	Points   int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Renderer displays progress. Implementations are safe for concurrent use.
type Renderer interface {
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
}

// Config configures NewRenderer.
type Config struct {
	Output io.Writer
	// ForcePlain prints progress lines even when Output is not a terminal.
	ForcePlain bool
	// Quiet suppresses everything but errors.
	Quiet bool
}

// NewRenderer prints per-file progress only on terminals or in CI-free
// plain mode; pipes get errors and the summary.
func NewRenderer(cfg Config) Renderer {
	if cfg.Output == nil {
		return NopRenderer{}
	}
	progress := !cfg.Quiet && (cfg.ForcePlain || (IsTTY(cfg.Output) && !DetectCI()))
	return NewPlainRenderer(cfg.Output, progress, !cfg.Quiet)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
