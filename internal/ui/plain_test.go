package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer with progress enabled
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(buf, true, true)

	// When: updating progress
	r.UpdateProgress(ProgressEvent{
		Repo:        "demo",
		Stage:       StageIndexing,
		Current:     50,
		Total:       100,
		CurrentFile: "src/main.rs",
	})

	// Then: output is correctly formatted
	assert.Equal(t, "[INDEX] demo 50/100 - src/main.rs\n", buf.String())
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(buf, true, true)

	for _, stage := range []Stage{StagePlanning, StageIndexing, StageRemoving, StageComplete} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 1, Total: 2, Message: "working"})
	}
	r.Complete(CompletionStats{Repo: "demo", Mode: "full"})

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_ProgressDisabled(t *testing.T) {
	// Given: a renderer for a pipe
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(buf, false, true)

	// When: progress and an error arrive
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 1, Total: 2})
	r.AddError(ErrorEvent{File: "bad.rs", Err: errors.New("invalid UTF-8"), IsWarn: true})

	// Then: only the error is printed
	assert.Equal(t, "WARN: bad.rs: invalid UTF-8\n", buf.String())
	assert.Len(t, r.Errors(), 1)
}

func TestPlainRenderer_ZeroTotalWithoutMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(buf, true, true)

	r.UpdateProgress(ProgressEvent{Stage: StagePlanning})

	assert.Empty(t, buf.String())
}

func TestPlainRenderer_Complete(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(buf, false, true)

	r.Complete(CompletionStats{
		Repo: "demo", Mode: "incremental", Reason: "changes below threshold",
		Files: 3, Removed: 1, Points: 12, Skipped: 2, Failed: 1,
		Duration: 1234 * time.Millisecond,
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "demo: incremental sync (changes below threshold): 3 files, 1 removed, 12 points in 1.2s"))
	assert.Contains(t, out, "(2 chunks skipped, 1 files failed)")
}

func TestPlainRenderer_Concurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(buf, true, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 1, Total: 1, Message: "x"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}
