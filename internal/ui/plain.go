package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, without ANSI codes.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	progress bool
	summary  bool
	errors   []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer. progress enables per-file
// lines; summary enables the completion line.
func NewPlainRenderer(out io.Writer, progress, summary bool) *PlainRenderer {
	return &PlainRenderer{out: out, progress: progress, summary: summary}
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	if !r.progress {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Format: [STAGE] repo current/total - message or file
	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}
	prefix := fmt.Sprintf("[%s]", event.Stage.Icon())
	if event.Repo != "" {
		prefix += " " + event.Repo
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "%s %d/%d - %s\n", prefix, event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", prefix, msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	if !r.summary {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "%s: %s sync (%s): %d files, %d removed, %d points in %s",
		stats.Repo, stats.Mode, stats.Reason, stats.Files, stats.Removed, stats.Points,
		stats.Duration.Round(100*time.Millisecond))
	if stats.Skipped > 0 || stats.Failed > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d chunks skipped, %d files failed)", stats.Skipped, stats.Failed)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Errors returns the errors reported so far.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}
