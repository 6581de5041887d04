package chunk

import (
	"bytes"
	"context"
	"fmt"
)

// CodeChunker implements AST-aware chunking using tree-sitter. It emits one
// chunk per top-level symbol (functions, methods, classes, types, impls,
// traits), with adjacent doc comments and attributes folded in. Code between
// symbols becomes block chunks. Symbols larger than maxBytes are split with
// the window chunker.
type CodeChunker struct {
	registry *LanguageRegistry
	window   *WindowChunker
	maxBytes int
}

// NewCodeChunker creates a code chunker over the default registry.
func NewCodeChunker(maxBytes int, window *WindowChunker) *CodeChunker {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	if window == nil {
		window = NewWindowChunker(DefaultWindowSize, DefaultWindowOverlap)
	}
	return &CodeChunker{
		registry: DefaultRegistry(),
		window:   window,
		maxBytes: maxBytes,
	}
}

// Supports reports whether language has a structural grammar.
func (c *CodeChunker) Supports(language string) bool {
	_, ok := c.registry.GetByName(language)
	return ok
}

// Chunk splits a file into structural chunks.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	cfg, ok := c.registry.GetByName(file.Language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", file.Language)
	}
	if isBlank(file.Content) {
		return nil, nil
	}

	// tree-sitter parsers are not goroutine safe; files are chunked concurrently.
	parser := NewParserWithRegistry(c.registry)
	defer parser.Close()

	tree, err := parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return nil, err
	}

	b := &chunkBuilder{
		file:  file,
		cfg:   cfg,
		lines: newLineIndex(file.Content),
		c:     c,
	}
	for _, child := range tree.Root.Children {
		b.visit(child)
	}
	b.flushPrelude()
	b.flushGap()

	return b.chunks, nil
}

// chunkBuilder walks top-level nodes in order, tracking the pending gap
// (non-symbol code) and prelude (comments/attributes that may belong to the
// next symbol).
type chunkBuilder struct {
	file  *FileInput
	cfg   *LanguageConfig
	lines lineIndex
	c     *CodeChunker

	chunks  []*Chunk
	gap     []*Node
	prelude []*Node
}

func (b *chunkBuilder) visit(n *Node) {
	if kind, name, ok := b.symbol(n); ok {
		start := int(n.StartByte)
		if len(b.prelude) > 0 && b.adjacent(b.prelude[len(b.prelude)-1], n) {
			start = int(b.prelude[0].StartByte)
			b.prelude = nil
		}
		b.flushPrelude()
		b.flushGap()
		b.emit(start, int(n.EndByte), kind, name)
		return
	}

	if b.isPrelude(n) {
		if len(b.prelude) > 0 && !b.adjacent(b.prelude[len(b.prelude)-1], n) {
			b.flushPrelude()
		}
		b.prelude = append(b.prelude, n)
		return
	}

	b.flushPrelude()
	b.gap = append(b.gap, n)
}

// symbol resolves n (or the symbol a wrapper node contains) to a kind and name.
func (b *chunkBuilder) symbol(n *Node) (ElementKind, string, bool) {
	if kind, ok := b.cfg.SymbolTypes[n.Type]; ok {
		return kind, n.SymbolName(), true
	}
	for _, w := range b.cfg.Wrappers {
		if n.Type != w {
			continue
		}
		for _, child := range n.Children {
			if kind, ok := b.cfg.SymbolTypes[child.Type]; ok {
				return kind, child.SymbolName(), true
			}
		}
	}
	return "", "", false
}

func (b *chunkBuilder) isPrelude(n *Node) bool {
	for _, t := range b.cfg.Prelude {
		if n.Type == t {
			return true
		}
	}
	return false
}

// adjacent reports whether b follows a with no blank line between them.
func (b *chunkBuilder) adjacent(a, next *Node) bool {
	between := b.file.Content[a.EndByte:next.StartByte]
	newlines := bytes.Count(between, []byte{'\n'})
	// Line comments end before their newline in some grammars and include it in others.
	if bytes.HasSuffix(b.file.Content[a.StartByte:a.EndByte], []byte{'\n'}) {
		newlines++
	}
	return newlines <= 1 && isBlank(between)
}

func (b *chunkBuilder) flushPrelude() {
	b.gap = append(b.gap, b.prelude...)
	b.prelude = nil
}

func (b *chunkBuilder) flushGap() {
	if len(b.gap) == 0 {
		return
	}
	start := int(b.gap[0].StartByte)
	end := int(b.gap[len(b.gap)-1].EndByte)
	b.gap = nil
	if isBlank(b.file.Content[start:end]) {
		return
	}
	b.emit(start, end, KindBlock, "")
}

func (b *chunkBuilder) emit(start, end int, kind ElementKind, name string) {
	if end-start <= b.c.maxBytes {
		b.chunks = append(b.chunks, newChunk(b.file, b.lines, start, end, kind, name))
		return
	}
	for _, r := range b.c.window.ranges(b.file.Content, b.lines, start, end) {
		b.chunks = append(b.chunks, newChunk(b.file, b.lines, r[0], r[1], kind, name))
	}
}
