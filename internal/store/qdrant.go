package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

const (
	defaultQdrantTimeout = 30 * time.Second
	defaultUpsertBatch   = 64
	scrollPageSize       = 256
)

// keywordFields get a keyword payload index so filters stay cheap.
var keywordFields = []string{
	FieldFilePath, FieldPathPrefixes, FieldLanguage, FieldElementType, FieldFileExtension,
}

// QdrantConfig configures the gRPC client.
type QdrantConfig struct {
	Host            string
	Port            int
	APIKey          string
	UseTLS          bool
	PoolSize        uint
	MaxMessageBytes int
	// Timeout bounds every individual call.
	Timeout         time.Duration
	UpsertBatchSize int
}

// QdrantStore implements VectorStore on a Qdrant server.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *slog.Logger
}

// NewQdrantStore creates the client. The connection is established lazily
// on the first call.
func NewQdrantStore(cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultQdrantTimeout
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = defaultUpsertBatch
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []grpc.DialOption
	if cfg.MaxMessageBytes > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageBytes),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageBytes),
		))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		PoolSize:    cfg.PoolSize,
		GrpcOptions: opts,
	})
	if err != nil {
		return nil, errors.StoreUnavailable("connect", err).
			WithDetail("address", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	}
	return &QdrantStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *QdrantStore) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// CollectionExists reports whether the collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	ok, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, classify("collection_exists", err)
	}
	return ok, nil
}

// CollectionInfo returns the point count and dense dimension.
func (s *QdrantStore) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.CollectionMissingOrEmpty(collection, false)
		}
		return nil, classify("collection_info", err)
	}
	out := &CollectionInfo{PointCount: info.GetPointsCount()}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[VectorDense]; params != nil {
		out.Dimensions = int(params.GetSize())
	}
	return out, nil
}

// CreateCollection creates the dense + sparse schema and the payload indexes.
func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, dims int) error {
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	err = s.client.CreateCollection(cctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorDense: {Size: uint64(dims), Distance: qdrant.Distance_Cosine},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			VectorSparse: {Modifier: qdrant.Modifier_Idf.Enum()},
		}),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return classify("create_collection", err)
	}

	for _, field := range keywordFields {
		_, err := s.client.CreateFieldIndex(cctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return classify("create_field_index", err)
		}
	}

	s.logger.Info("collection_created",
		slog.String("collection", collection),
		slog.Int("dimensions", dims))
	return nil
}

// DeleteCollection drops the collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return classify("delete_collection", err)
	}
	return nil
}

// Upsert writes points in batches and waits for each batch to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []*Point) error {
	for start := 0; start < len(points); start += s.cfg.UpsertBatchSize {
		end := min(start+s.cfg.UpsertBatchSize, len(points))

		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, toPointStruct(p))
		}

		cctx, cancel := s.callCtx(ctx)
		_, err := s.client.Upsert(cctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         batch,
		})
		cancel()
		if err != nil {
			return classify("upsert", err)
		}
	}
	return nil
}

// DeleteByPath removes every point of one file.
func (s *QdrantStore) DeleteByPath(ctx context.Context, collection, path string) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(FieldFilePath, path)},
		}),
	})
	if err != nil {
		return classify("delete", err)
	}
	return nil
}

// Search queries one named vector.
func (s *QdrantStore) Search(ctx context.Context, collection string, req *SearchRequest) ([]*ScoredPoint, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	var query *qdrant.Query
	switch req.Using {
	case VectorDense:
		query = qdrant.NewQueryDense(req.Dense)
	case VectorSparse:
		if req.Sparse.IsEmpty() {
			return nil, nil
		}
		query = qdrant.NewQuerySparse(req.Sparse.Indices, req.Sparse.Values)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown vector %q", req.Using), nil)
	}

	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          query,
		Using:          qdrant.PtrOf(req.Using),
		Filter:         toFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classify("query", err)
	}

	out := make([]*ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, &ScoredPoint{
			ID:      h.GetId().GetUuid(),
			Score:   h.GetScore(),
			Payload: fromValues(h.GetPayload()),
		})
	}
	return out, nil
}

// Files scrolls the whole collection, reading only path and hash.
func (s *QdrantStore) Files(ctx context.Context, collection string) (map[string]*FileState, error) {
	files := make(map[string]*FileState)
	err := s.scroll(ctx, collection, nil, func(id string, p Payload) {
		addFilePoint(files, id, p)
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *QdrantStore) scroll(ctx context.Context, collection string, filter *qdrant.Filter, fn func(id string, p Payload)) error {
	points := s.client.GetPointsClient()
	var offset *qdrant.PointId
	for {
		cctx, cancel := s.callCtx(ctx)
		resp, err := points.Scroll(cctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayloadInclude(FieldFilePath, FieldContentHash, FieldChunkCount),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		cancel()
		if err != nil {
			return classify("scroll", err)
		}
		for _, pt := range resp.GetResult() {
			fn(pt.GetId().GetUuid(), fromValues(pt.GetPayload()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return nil
		}
	}
}

// Flush is a no-op: every write waits for the server to apply it.
func (s *QdrantStore) Flush(context.Context) error { return nil }

// Close closes the gRPC connections.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func addFilePoint(files map[string]*FileState, id string, p Payload) {
	fs, ok := files[p.FilePath]
	if !ok {
		fs = &FileState{Path: p.FilePath, ContentHash: p.ContentHash, ChunkCount: p.ChunkCount}
		files[p.FilePath] = fs
	}
	fs.PointIDs = append(fs.PointIDs, id)
	// Mixed hashes or counts mean a partially written file; force a rewrite.
	if fs.ContentHash != p.ContentHash || fs.ChunkCount != p.ChunkCount {
		fs.ContentHash = ""
	}
}

// classify maps gRPC failures onto store error codes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return errors.StoreUnavailable(op, err)
	case codes.Canceled:
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.StoreUnavailable(op, err)
	}
	return errors.New(errors.ErrCodeStoreRequest, "vector store rejected "+op, err)
}

func toPointStruct(p *Point) *qdrant.PointStruct {
	vectors := map[string]*qdrant.Vector{
		VectorDense: qdrant.NewVectorDense(p.Dense),
	}
	if !p.Sparse.IsEmpty() {
		vectors[VectorSparse] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: toValues(&p.Payload),
	}
}

func toFilter(f Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	var must []*qdrant.Condition
	if f.Language != "" {
		must = append(must, qdrant.NewMatch(FieldLanguage, f.Language))
	}
	if f.PathPrefix != "" {
		must = append(must, qdrant.NewMatch(FieldPathPrefixes, normalizePrefix(f.PathPrefix)))
	}
	if f.ElementType != "" {
		must = append(must, qdrant.NewMatch(FieldElementType, f.ElementType))
	}
	if f.FileExtension != "" {
		must = append(must, qdrant.NewMatch(FieldFileExtension, normalizeExtension(f.FileExtension)))
	}
	return &qdrant.Filter{Must: must}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(n int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(n)}}
}

func toValues(p *Payload) map[string]*qdrant.Value {
	prefixes := PathPrefixes(p.FilePath)
	list := make([]*qdrant.Value, 0, len(prefixes))
	for _, pp := range prefixes {
		list = append(list, stringValue(pp))
	}

	return map[string]*qdrant.Value{
		FieldFilePath:      stringValue(p.FilePath),
		FieldPathPrefixes:  {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: list}}},
		FieldLanguage:      stringValue(p.Language),
		FieldFileExtension: stringValue(p.FileExtension),
		FieldStartByte:     intValue(p.StartByte),
		FieldEndByte:       intValue(p.EndByte),
		FieldStartLine:     intValue(p.StartLine),
		FieldEndLine:       intValue(p.EndLine),
		FieldElementType:   stringValue(p.ElementType),
		FieldSymbolName:    stringValue(p.SymbolName),
		FieldCommit:        stringValue(p.Commit),
		FieldContentHash:   stringValue(p.ContentHash),
		FieldChunkCount:    intValue(p.ChunkCount),
		FieldContent:       stringValue(p.Content),
	}
}

func fromValues(m map[string]*qdrant.Value) Payload {
	str := func(k string) string { return m[k].GetStringValue() }
	num := func(k string) int { return int(m[k].GetIntegerValue()) }
	return Payload{
		FilePath:      str(FieldFilePath),
		Language:      str(FieldLanguage),
		FileExtension: str(FieldFileExtension),
		StartByte:     num(FieldStartByte),
		EndByte:       num(FieldEndByte),
		StartLine:     num(FieldStartLine),
		EndLine:       num(FieldEndLine),
		ElementType:   str(FieldElementType),
		SymbolName:    str(FieldSymbolName),
		Commit:        str(FieldCommit),
		ContentHash:   str(FieldContentHash),
		ChunkCount:    num(FieldChunkCount),
		Content:       str(FieldContent),
	}
}

var _ VectorStore = (*QdrantStore)(nil)
