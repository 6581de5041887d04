package chunk

import (
	"bytes"
	"context"
	"strings"
)

// MarkdownChunker splits markdown by ATX headers. Each section runs from its
// header to the next header of any level and is named by its header path
// ("Install > Linux"). Text before the first header is a section without a
// name, and YAML frontmatter becomes its own chunk. Sections larger than
// maxBytes are split at line boundaries. Headers inside fenced code blocks
// are ignored.
type MarkdownChunker struct {
	window   *WindowChunker
	maxBytes int
}

// NewMarkdownChunker creates a markdown chunker.
func NewMarkdownChunker(maxBytes int, window *WindowChunker) *MarkdownChunker {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	if window == nil {
		window = NewWindowChunker(DefaultWindowSize, DefaultWindowOverlap)
	}
	return &MarkdownChunker{window: window, maxBytes: maxBytes}
}

// Supports reports whether language is chunked by sections.
func (c *MarkdownChunker) Supports(language string) bool {
	return language == "markdown"
}

// mdSection is a byte range of the document and its header path.
type mdSection struct {
	start, end int
	name       string
	kind       ElementKind
}

// Chunk implements Chunker.
func (c *MarkdownChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	src := file.Content
	if isBlank(src) {
		return nil, nil
	}
	lines := newLineIndex(src)

	var chunks []*Chunk
	for _, s := range c.sections(src, lines) {
		if isBlank(src[s.start:s.end]) {
			continue
		}
		if s.end-s.start <= c.maxBytes {
			chunks = append(chunks, newChunk(file, lines, s.start, s.end, s.kind, s.name))
			continue
		}
		for _, r := range c.split(src, lines, s.start, s.end) {
			chunks = append(chunks, newChunk(file, lines, r[0], r[1], s.kind, s.name))
		}
	}
	return chunks, nil
}

// sections walks the document line by line.
func (c *MarkdownChunker) sections(src []byte, lines lineIndex) []mdSection {
	var out []mdSection
	first := 0
	fm := frontmatterEnd(src)
	if fm > 0 {
		out = append(out, mdSection{start: 0, end: fm, kind: KindFrontmatter})
		first = lines.lineOf(fm - 1)
	}

	var headers [6]string
	cur := mdSection{start: fm, kind: KindSection}
	var fence string

	for i := first; i < len(lines); i++ {
		start := lines[i]
		end := len(src)
		if i+1 < len(lines) {
			end = lines[i+1]
		}
		line := string(bytes.TrimRight(src[start:end], "\r\n"))

		if marker := fenceMarker(line); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case strings.HasPrefix(marker, fence):
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}

		level, title := parseHeader(line)
		if level == 0 {
			continue
		}
		if start > cur.start {
			cur.end = start
			out = append(out, cur)
		}
		headers[level-1] = title
		for j := level; j < len(headers); j++ {
			headers[j] = ""
		}
		cur = mdSection{start: start, kind: KindSection, name: headerPath(headers[:level])}
	}
	if cur.start < len(src) {
		cur.end = len(src)
		out = append(out, cur)
	}
	return out
}

// split cuts an oversized section into ranges of whole lines no larger than
// maxBytes. A single line longer than maxBytes falls back to windows.
func (c *MarkdownChunker) split(src []byte, lines lineIndex, start, end int) [][2]int {
	var out [][2]int
	pos := start
	for pos < end {
		stop := lines.startAtOrBefore(min(pos+c.maxBytes, end))
		if pos+c.maxBytes >= end {
			stop = end
		}
		if stop <= pos {
			next := lines.startAtOrAfter(pos + 1)
			if next < 0 || next > end {
				next = end
			}
			out = append(out, c.window.ranges(src, lines, pos, next)...)
			pos = next
			continue
		}
		if !isBlank(src[pos:stop]) {
			out = append(out, [2]int{pos, stop})
		}
		pos = stop
	}
	return out
}

// frontmatterEnd returns the end of a leading "---" YAML block, or 0.
func frontmatterEnd(src []byte) int {
	if !bytes.HasPrefix(src, []byte("---\n")) && !bytes.HasPrefix(src, []byte("---\r\n")) {
		return 0
	}
	pos := bytes.IndexByte(src, '\n') + 1
	for pos < len(src) {
		next := bytes.IndexByte(src[pos:], '\n')
		lineEnd := len(src)
		if next >= 0 {
			lineEnd = pos + next + 1
		}
		if string(bytes.TrimRight(src[pos:lineEnd], "\r\n")) == "---" {
			return lineEnd
		}
		pos = lineEnd
	}
	return 0
}

// parseHeader returns the level and title of an ATX header line, or 0.
func parseHeader(line string) (int, string) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, ""
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, ""
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, ""
	}
	title := strings.TrimSpace(rest)
	title = strings.TrimSpace(strings.TrimRight(title, "#"))
	return level, title
}

// fenceMarker returns the run of backticks or tildes opening or closing a
// fenced code block, or "".
func fenceMarker(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 || len(trimmed) < 3 {
		return ""
	}
	ch := trimmed[0]
	if ch != '`' && ch != '~' {
		return ""
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == ch {
		n++
	}
	if n < 3 {
		return ""
	}
	return trimmed[:n]
}

func headerPath(headers []string) string {
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "" {
			parts = append(parts, h)
		}
	}
	return strings.Join(parts, " > ")
}
