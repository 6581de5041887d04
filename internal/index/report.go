package index

import (
	"time"

	"github.com/llamaha/sagitta-sub001/internal/syncer"
)

// SkippedChunk is a chunk left out of the index.
type SkippedChunk struct {
	Path      string
	StartLine int
	EndLine   int
	Reason    string
}

// FailedFile is a planned file that could not be indexed.
type FailedFile struct {
	Path   string
	Reason string
}

// SyncReport describes one sync attempt.
type SyncReport struct {
	Repo       string
	Mode       syncer.Mode
	Reason     string
	FromCommit string
	ToCommit   string

	FilesProcessed int
	// FilesUnchanged counts files whose stored content hash already matched.
	FilesUnchanged int
	FilesRemoved   int
	// FilesExcluded counts tracked files matched by an exclusion pattern.
	FilesExcluded int
	PointsWritten int
	SkippedChunks []SkippedChunk
	FailedFiles   []FailedFile

	Duration          time.Duration
	WatermarkAdvanced bool
}

// Complete reports whether every planned file made it into the index.
func (r *SyncReport) Complete() bool {
	return len(r.FailedFiles) == 0
}
