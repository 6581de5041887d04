package chunk

import (
	"context"
	"sort"
	"unicode/utf8"
)

// WindowChunker splits content into fixed-size overlapping byte windows
// whose boundaries snap to line starts.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker creates a window chunker. Non-positive values select the
// defaults; an overlap at least as large as the window is clamped.
func NewWindowChunker(size, overlap int) *WindowChunker {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if overlap < 0 {
		overlap = DefaultWindowOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &WindowChunker{size: size, overlap: overlap}
}

// Chunk implements Chunker.
func (w *WindowChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	if isBlank(file.Content) {
		return nil, nil
	}
	lines := newLineIndex(file.Content)
	var chunks []*Chunk
	for _, r := range w.ranges(file.Content, lines, 0, len(file.Content)) {
		chunks = append(chunks, newChunk(file, lines, r[0], r[1], KindWindow, ""))
	}
	return chunks, nil
}

// ranges returns the windows covering src[start:end]. Windows that contain
// only whitespace are dropped.
func (w *WindowChunker) ranges(src []byte, lines lineIndex, start, end int) [][2]int {
	var out [][2]int
	pos := start
	for pos < end {
		stop := pos + w.size
		if stop >= end {
			stop = end
		} else {
			if snapped := lines.startAtOrBefore(stop); snapped > pos {
				stop = snapped
			}
			// A single line longer than the window is cut mid-line, on a rune boundary.
			for stop > pos+1 && stop < end && !utf8.RuneStart(src[stop]) {
				stop--
			}
		}

		if !isBlank(src[pos:stop]) {
			out = append(out, [2]int{pos, stop})
		}
		if stop >= end {
			break
		}

		next := lines.startAtOrAfter(stop - w.overlap)
		if next <= pos || next > stop {
			next = stop
		}
		pos = next
	}
	return out
}

// lineIndex holds the byte offset of every line start.
type lineIndex []int

func newLineIndex(src []byte) lineIndex {
	idx := lineIndex{0}
	for i, b := range src {
		if b == '\n' && i+1 < len(src) {
			idx = append(idx, i+1)
		}
	}
	return idx
}

// lineOf returns the 1-indexed line containing byte offset off.
func (l lineIndex) lineOf(off int) int {
	return sort.Search(len(l), func(i int) bool { return l[i] > off })
}

func (l lineIndex) startAtOrBefore(off int) int {
	i := l.lineOf(off) - 1
	if i < 0 {
		return 0
	}
	return l[i]
}

func (l lineIndex) startAtOrAfter(off int) int {
	i := sort.SearchInts(l, off)
	if i >= len(l) {
		return -1
	}
	return l[i]
}

func newChunk(file *FileInput, lines lineIndex, start, end int, kind ElementKind, name string) *Chunk {
	last := end - 1
	if last < start {
		last = start
	}
	return &Chunk{
		ID:        ChunkID(file.Path, start, end),
		FilePath:  file.Path,
		Language:  file.Language,
		StartByte: start,
		EndByte:   end,
		StartLine: lines.lineOf(start),
		EndLine:   lines.lineOf(last),
		Content:   string(file.Content[start:end]),
		Kind:      kind,
		Name:      name,
	}
}

func isBlank(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r', '\f', '\v':
		default:
			return false
		}
	}
	return true
}
