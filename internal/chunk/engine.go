package chunk

import (
	"bytes"
	"context"
	"log/slog"
)

// Options configures the chunking engine.
type Options struct {
	WindowSize        int
	WindowOverlap     int
	MaxChunkBytes     int
	DisableStructural bool
}

// Engine picks a chunker per file: structural when the language has a
// grammar, sections for markdown, fixed windows otherwise or when parsing
// fails.
type Engine struct {
	code     *CodeChunker
	markdown *MarkdownChunker
	window   *WindowChunker
	opts     Options
}

// NewEngine creates a chunking engine.
func NewEngine(opts Options) *Engine {
	window := NewWindowChunker(opts.WindowSize, opts.WindowOverlap)
	return &Engine{
		code:     NewCodeChunker(opts.MaxChunkBytes, window),
		markdown: NewMarkdownChunker(opts.MaxChunkBytes, window),
		window:   window,
		opts:     opts,
	}
}

var _ Chunker = (*Engine)(nil)

// Chunk implements Chunker. Empty, whitespace-only and binary files yield
// no chunks.
func (e *Engine) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if isBlank(file.Content) || IsBinary(file.Content) {
		return nil, nil
	}
	if file.Language == "" {
		f := *file
		f.Language = DetectLanguage(file.Path)
		file = &f
	}

	if !e.opts.DisableStructural && e.markdown.Supports(file.Language) {
		return e.markdown.Chunk(ctx, file)
	}
	if !e.opts.DisableStructural && e.code.Supports(file.Language) {
		chunks, err := e.code.Chunk(ctx, file)
		if err == nil {
			return chunks, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("structural_chunking_failed",
			slog.String("path", file.Path),
			slog.String("language", file.Language),
			slog.String("error", err.Error()))
	}

	return e.window.Chunk(ctx, file)
}

// IsBinary reports whether content looks binary (a NUL byte in the first 8KB).
func IsBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}
