package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunking defaults, in bytes.
const (
	DefaultWindowSize    = 1500
	DefaultWindowOverlap = 200
	DefaultMaxChunkBytes = 4000

	// binarySniffLen is how much of a file is checked for NUL bytes.
	binarySniffLen = 8192
)

// ElementKind is the structural kind of a chunk.
type ElementKind string

const (
	KindFunction  ElementKind = "function"
	KindMethod    ElementKind = "method"
	KindClass     ElementKind = "class"
	KindStruct    ElementKind = "struct"
	KindEnum      ElementKind = "enum"
	KindInterface ElementKind = "interface"
	KindTrait     ElementKind = "trait"
	KindImpl      ElementKind = "impl"
	KindType      ElementKind = "type"
	KindModule    ElementKind = "module"
	KindConstant  ElementKind = "constant"
	KindVariable  ElementKind = "variable"
	KindMacro     ElementKind = "macro"

	// KindBlock covers top-level code between symbols (imports, statements).
	KindBlock ElementKind = "block"
	// KindWindow is a fixed-size window from the fallback chunker.
	KindWindow ElementKind = "window"
	// KindSection is a markdown section named by its header path.
	KindSection ElementKind = "section"
	// KindFrontmatter is a leading YAML block of a markdown file.
	KindFrontmatter ElementKind = "frontmatter"
)

// Chunk is a retrievable unit of a file. Byte ranges are half-open
// [StartByte, EndByte); lines are 1-indexed and inclusive.
type Chunk struct {
	ID        string
	FilePath  string
	Language  string
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
	Content   string
	Kind      ElementKind
	Name      string
}

// FileInput is input for the Chunker interface
type FileInput struct {
	Path     string // Relative, slash separated
	Content  []byte
	Language string // empty means detect from Path
}

// Chunker splits a file into chunks. Output must be a pure function of the
// input and the chunker's configuration.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
}

// ChunkID derives a chunk id from the file path and byte range.
func ChunkID(path string, start, end int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d", path, start, end)))
	return hex.EncodeToString(sum[:8])
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST
type Node struct {
	Type       string
	Name       string // text of the node's "name" field, if any
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
	IsNamed    bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig describes how to find top-level symbols of a language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// SymbolTypes maps top-level node types to the chunk kind they produce.
	SymbolTypes map[string]ElementKind

	// Wrappers are node types that wrap a symbol (export_statement,
	// decorated_definition). The wrapper's range is used with the inner
	// symbol's kind and name.
	Wrappers []string

	// NameFields lists fallback fields used when a node has no "name" field
	// (rust impl blocks are named by their "type").
	NameFields []string

	// Prelude node types attach to the following symbol when adjacent
	// (doc comments, rust attributes).
	Prelude []string
}
