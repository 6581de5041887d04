// Package store persists indexed points and runs single-vector searches.
//
// Two backends implement VectorStore: QdrantStore talks to a Qdrant server
// over gRPC, LocalStore keeps collections in memory with a coder/hnsw dense
// graph and exact sparse scoring, snapshotted to disk with gob.
package store

import (
	"context"
	"path"
	"strings"

	"github.com/llamaha/sagitta-sub001/internal/sparse"
)

// Named vectors stored on every point.
const (
	VectorDense  = "dense"
	VectorSparse = "sparse_tf"
)

// Payload field names.
const (
	FieldFilePath      = "file_path"
	FieldPathPrefixes  = "path_prefixes"
	FieldLanguage      = "language"
	FieldFileExtension = "file_extension"
	FieldStartByte     = "start_byte"
	FieldEndByte       = "end_byte"
	FieldStartLine     = "start_line"
	FieldEndLine       = "end_line"
	FieldElementType   = "element_type"
	FieldSymbolName    = "symbol_name"
	FieldCommit        = "commit"
	FieldContentHash   = "content_hash"
	FieldChunkCount    = "chunk_count"
	FieldContent       = "chunk_content"
)

// Payload is the metadata stored with a point.
type Payload struct {
	FilePath      string
	Language      string
	FileExtension string
	StartByte     int
	EndByte       int
	StartLine     int
	EndLine       int
	ElementType   string
	SymbolName    string
	Commit        string
	ContentHash   string
	// ChunkCount is how many points the file was written with.
	ChunkCount int
	Content    string
}

// Point is one indexed chunk.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  sparse.Vector
	Payload Payload
}

// Filter restricts a search. Empty fields match everything.
type Filter struct {
	Language      string
	PathPrefix    string
	ElementType   string
	FileExtension string
}

// IsEmpty reports whether the filter matches every point.
func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

// Matches evaluates the filter against a payload.
func (f Filter) Matches(p *Payload) bool {
	if f.Language != "" && !strings.EqualFold(f.Language, p.Language) {
		return false
	}
	if f.ElementType != "" && f.ElementType != p.ElementType {
		return false
	}
	if f.FileExtension != "" && normalizeExtension(f.FileExtension) != p.FileExtension {
		return false
	}
	if f.PathPrefix != "" {
		prefix := normalizePrefix(f.PathPrefix)
		for _, pp := range PathPrefixes(p.FilePath) {
			if pp == prefix {
				return true
			}
		}
		return false
	}
	return true
}

// SearchRequest queries one named vector.
type SearchRequest struct {
	// Using is VectorDense or VectorSparse.
	Using  string
	Dense  []float32
	Sparse sparse.Vector
	Limit  int
	Filter Filter
}

// ScoredPoint is a search hit. Vectors are not returned.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload Payload
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	PointCount uint64
	Dimensions int
}

// FileState is what the store knows about one indexed file.
type FileState struct {
	Path        string
	ContentHash string
	ChunkCount  int
	PointIDs    []string
}

// Current reports whether the file is fully indexed at content hash. A write
// interrupted between upsert batches leaves fewer points than ChunkCount.
func (f *FileState) Current(hash string) bool {
	return f != nil && hash != "" && f.ContentHash == hash && f.ChunkCount == len(f.PointIDs)
}

// VectorStore is the contract the sync pipeline and query engine rely on.
type VectorStore interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	// CollectionInfo returns errors.ErrCollectionMissing for unknown collections.
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)
	// CreateCollection is a no-op when the collection already exists.
	CreateCollection(ctx context.Context, collection string, dims int) error
	DeleteCollection(ctx context.Context, collection string) error

	Upsert(ctx context.Context, collection string, points []*Point) error
	// DeleteByPath removes every point whose file_path equals path exactly.
	DeleteByPath(ctx context.Context, collection, path string) error
	Search(ctx context.Context, collection string, req *SearchRequest) ([]*ScoredPoint, error)

	// Files lists the indexed files with their content hash.
	Files(ctx context.Context, collection string) (map[string]*FileState, error)

	// Flush makes prior writes durable.
	Flush(ctx context.Context) error
	Close() error
}

// PathPrefixes returns every directory prefix of p plus p itself, so a path
// prefix filter becomes an exact keyword match.
//
//	"src/api/main.rs" -> ["src", "src/api", "src/api/main.rs"]
func PathPrefixes(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

func normalizePrefix(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Extension returns the lowercased extension of p without its dot.
func Extension(p string) string {
	return normalizeExtension(path.Ext(p))
}
