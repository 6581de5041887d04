// Package index writes repository contents into a collection and runs syncs.
package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/llamaha/sagitta-sub001/internal/chunk"
	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
	"github.com/llamaha/sagitta-sub001/internal/store"
)

// DefaultUpsertBatchSize is how many points go into one upsert call.
const DefaultUpsertBatchSize = 64

// pointNamespace scopes the name-based UUIDs of points.
var pointNamespace = uuid.MustParse("6f6b8c1e-3d52-5b0a-9a57-2f1d0c8e4a91")

// PointID derives the id of the point for a chunk. The same repository, path
// and byte range always map to the same id, so re-upserting overwrites.
func PointID(repo, path string, start, end int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s\x00%s\x00%d-%d", repo, path, start, end))).String()
}

// Writer writes points for whole files.
type Writer struct {
	store     store.VectorStore
	batchSize int
}

// NewWriter creates a writer. batchSize <= 0 selects the default.
func NewWriter(vs store.VectorStore, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	return &Writer{store: vs, batchSize: batchSize}
}

// EnsureCollection creates the collection if it does not exist. An existing
// collection with different dimensions is an error; it is never dropped here.
func (w *Writer) EnsureCollection(ctx context.Context, name string, dims int) error {
	exists, err := w.store.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return w.store.CreateCollection(ctx, name, dims)
	}
	info, err := w.store.CollectionInfo(ctx, name)
	if err != nil {
		return err
	}
	if info.Dimensions != 0 && info.Dimensions != dims {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("collection has %d dimensions, embedder produces %d", info.Dimensions, dims), nil).
			WithDetail("collection", name).
			WithSuggestion("Run 'sagitta repair' after changing the embedding model")
	}
	return nil
}

// ReplaceFile deletes every point of path and then writes the chunks of fc.
// Old and new chunks are never merged, so shifted boundaries leave nothing
// behind. It returns the number of points written.
func (w *Writer) ReplaceFile(ctx context.Context, collection, path string, fc *FileContent) (int, error) {
	if err := w.store.DeleteByPath(ctx, collection, path); err != nil {
		return 0, err
	}
	return w.UpsertChunks(ctx, collection, fc)
}

// RemoveFile deletes every point of path.
func (w *Writer) RemoveFile(ctx context.Context, collection, path string) error {
	return w.store.DeleteByPath(ctx, collection, path)
}

// FileContent is the chunked and vectorized content of one file at a commit.
type FileContent struct {
	Repo        string
	Commit      string
	ContentHash string
	Chunks      []*chunk.Chunk
	Dense       [][]float32
	Sparse      []sparse.Vector
}

// UpsertChunks writes one point per chunk in batches without deleting
// anything first. Points are keyed by PointID, so repeating a write
// overwrites.
func (w *Writer) UpsertChunks(ctx context.Context, collection string, fc *FileContent) (int, error) {
	points, err := BuildPoints(fc)
	if err != nil {
		return 0, err
	}
	if err := w.upsert(ctx, collection, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

func (w *Writer) upsert(ctx context.Context, collection string, points []*store.Point) error {
	for start := 0; start < len(points); start += w.batchSize {
		end := min(start+w.batchSize, len(points))
		if err := w.store.Upsert(ctx, collection, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// BuildPoints pairs every chunk with its vectors and payload. Every point
// records the file's chunk count so a file cut short by a failed batch is
// never mistaken for a complete one.
func BuildPoints(fc *FileContent) ([]*store.Point, error) {
	if len(fc.Dense) != len(fc.Chunks) || len(fc.Sparse) != len(fc.Chunks) {
		return nil, errors.InternalError(fmt.Sprintf("%d chunks but %d dense and %d sparse vectors",
			len(fc.Chunks), len(fc.Dense), len(fc.Sparse)), nil)
	}
	points := make([]*store.Point, len(fc.Chunks))
	for i, c := range fc.Chunks {
		points[i] = &store.Point{
			ID:     PointID(fc.Repo, c.FilePath, c.StartByte, c.EndByte),
			Dense:  fc.Dense[i],
			Sparse: fc.Sparse[i],
			Payload: store.Payload{
				FilePath:      c.FilePath,
				Language:      c.Language,
				FileExtension: store.Extension(c.FilePath),
				StartByte:     c.StartByte,
				EndByte:       c.EndByte,
				StartLine:     c.StartLine,
				EndLine:       c.EndLine,
				ElementType:   string(c.Kind),
				SymbolName:    c.Name,
				Commit:        fc.Commit,
				ContentHash:   fc.ContentHash,
				ChunkCount:    len(fc.Chunks),
				Content:       c.Content,
			},
		}
	}
	return points, nil
}
