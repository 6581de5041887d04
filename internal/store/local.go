package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/sparse"
)

const (
	snapshotExt = ".gob"

	// defaultExactLimit is the collection size up to which dense search scans
	// every point instead of walking the graph.
	defaultExactLimit = 4096

	// Orphaned graph nodes are only reclaimed past this count.
	minOrphansForCompaction = 64
)

// LocalConfig configures LocalStore.
type LocalConfig struct {
	// Dir holds one gob snapshot per collection.
	Dir      string
	M        int
	EfSearch int
	// ExactLimit overrides defaultExactLimit; negative always uses the graph.
	ExactLimit int
}

// LocalStore is an embedded VectorStore for single-machine use and tests.
// Writes stay in memory until Flush or Close.
type LocalStore struct {
	mu          sync.RWMutex
	cfg         LocalConfig
	collections map[string]*localCollection
	dirty       map[string]bool
	logger      *slog.Logger
	closed      bool
}

type localCollection struct {
	dims   int
	points map[string]*Point

	// Dense graph. Replaced and deleted points are orphaned, not removed,
	// because coder/hnsw misbehaves when its last node is deleted.
	graph   *hnsw.Graph[uint64]
	keys    map[string]uint64
	ids     map[uint64]string
	nextKey uint64
}

// localSnapshot is the gob representation of a collection.
type localSnapshot struct {
	Dims   int
	Points []*Point
}

// NewLocalStore loads every snapshot under cfg.Dir. An empty Dir keeps
// everything in memory.
func NewLocalStore(cfg LocalConfig, logger *slog.Logger) (*LocalStore, error) {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	if cfg.ExactLimit == 0 {
		cfg.ExactLimit = defaultExactLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &LocalStore{
		cfg:         cfg,
		collections: make(map[string]*localCollection),
		dirty:       make(map[string]bool),
		logger:      logger,
	}
	if cfg.Dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.StoreUnavailable("open", err)
	}
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, errors.StoreUnavailable("open", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), snapshotExt)
		c, err := s.load(filepath.Join(cfg.Dir, e.Name()))
		if err != nil {
			return nil, errors.StoreUnavailable("load", err).WithDetail("collection", name)
		}
		s.collections[name] = c
	}
	return s, nil
}

func (s *LocalStore) newCollection(dims int) *localCollection {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.cfg.M
	g.EfSearch = s.cfg.EfSearch
	g.Ml = 0.25
	return &localCollection{
		dims:   dims,
		points: make(map[string]*Point),
		graph:  g,
		keys:   make(map[string]uint64),
		ids:    make(map[uint64]string),
	}
}

func (s *LocalStore) get(collection string) (*localCollection, error) {
	if s.closed {
		return nil, errors.StoreUnavailable("access", fmt.Errorf("store is closed"))
	}
	c, ok := s.collections[collection]
	if !ok {
		return nil, errors.CollectionMissingOrEmpty(collection, false)
	}
	return c, nil
}

// CollectionExists reports whether the collection exists.
func (s *LocalStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, errors.StoreUnavailable("access", fmt.Errorf("store is closed"))
	}
	_, ok := s.collections[collection]
	return ok, nil
}

// CollectionInfo returns the live point count.
func (s *LocalStore) CollectionInfo(_ context.Context, collection string) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{PointCount: uint64(len(c.points)), Dimensions: c.dims}, nil
}

// CreateCollection is a no-op for existing collections.
func (s *LocalStore) CreateCollection(_ context.Context, collection string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreUnavailable("access", fmt.Errorf("store is closed"))
	}
	if _, ok := s.collections[collection]; ok {
		return nil
	}
	s.collections[collection] = s.newCollection(dims)
	s.dirty[collection] = true
	s.logger.Info("collection_created",
		slog.String("collection", collection),
		slog.Int("dimensions", dims),
		slog.String("backend", "local"))
	return nil
}

// DeleteCollection drops the collection and its snapshot.
func (s *LocalStore) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreUnavailable("access", fmt.Errorf("store is closed"))
	}
	delete(s.collections, collection)
	delete(s.dirty, collection)
	if s.cfg.Dir != "" {
		err := os.Remove(s.snapshotPath(collection))
		if err != nil && !os.IsNotExist(err) {
			return errors.StoreUnavailable("delete_collection", err)
		}
	}
	return nil
}

// Upsert inserts or replaces points by id.
func (s *LocalStore) Upsert(_ context.Context, collection string, points []*Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(collection)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Dense) != c.dims {
			return errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("dimension mismatch: expected %d, got %d", c.dims, len(p.Dense)), nil).
				WithSuggestion("Run 'sagitta repair' after changing the embedding model.")
		}
	}
	for _, p := range points {
		c.put(clonePoint(p))
	}
	c.maybeCompact()
	s.dirty[collection] = true
	return nil
}

// DeleteByPath removes every point whose file_path equals path.
func (s *LocalStore) DeleteByPath(_ context.Context, collection, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(collection)
	if err != nil {
		return err
	}
	for id, p := range c.points {
		if p.Payload.FilePath == path {
			c.remove(id)
		}
	}
	c.maybeCompact()
	s.dirty[collection] = true
	return nil
}

// Search scores one named vector. Ties are broken by id so results are
// deterministic.
func (s *LocalStore) Search(_ context.Context, collection string, req *SearchRequest) ([]*ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		return nil, nil
	}

	var hits []*ScoredPoint
	switch req.Using {
	case VectorDense:
		if len(req.Dense) != c.dims {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("query dimension %d does not match collection dimension %d", len(req.Dense), c.dims), nil)
		}
		hits = s.searchDense(c, req)
	case VectorSparse:
		hits = c.searchSparse(req)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown vector %q", req.Using), nil)
	}

	sortHits(hits)
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

func (s *LocalStore) searchDense(c *localCollection, req *SearchRequest) []*ScoredPoint {
	exact := s.cfg.ExactLimit >= 0 && len(c.points) <= s.cfg.ExactLimit
	if exact || !req.Filter.IsEmpty() {
		hits := make([]*ScoredPoint, 0, len(c.points))
		for id, p := range c.points {
			if !req.Filter.Matches(&p.Payload) {
				continue
			}
			hits = append(hits, &ScoredPoint{
				ID:      id,
				Score:   1 - hnsw.CosineDistance(req.Dense, p.Dense),
				Payload: p.Payload,
			})
		}
		return hits
	}

	orphans := c.graph.Len() - len(c.points)
	nodes := c.graph.Search(req.Dense, req.Limit+orphans)
	hits := make([]*ScoredPoint, 0, len(nodes))
	for _, n := range nodes {
		id, ok := c.ids[n.Key]
		if !ok {
			continue
		}
		p := c.points[id]
		hits = append(hits, &ScoredPoint{
			ID:      id,
			Score:   1 - c.graph.Distance(req.Dense, n.Value),
			Payload: p.Payload,
		})
	}
	return hits
}

// searchSparse is a dot product with an IDF modifier on the stored side,
// matching how the server backend scores the sparse_tf vector.
func (c *localCollection) searchSparse(req *SearchRequest) []*ScoredPoint {
	if req.Sparse.IsEmpty() {
		return nil
	}

	want := make(map[uint32]float32, req.Sparse.Len())
	for i, idx := range req.Sparse.Indices {
		want[idx] = req.Sparse.Values[i]
	}
	df := make(map[uint32]int, len(want))
	for _, p := range c.points {
		for _, idx := range p.Sparse.Indices {
			if _, ok := want[idx]; ok {
				df[idx]++
			}
		}
	}
	n := float64(len(c.points))
	idf := make(map[uint32]float64, len(df))
	for idx, d := range df {
		idf[idx] = math.Log((n-float64(d)+0.5)/(float64(d)+0.5) + 1)
	}

	var hits []*ScoredPoint
	for id, p := range c.points {
		if !req.Filter.Matches(&p.Payload) {
			continue
		}
		var score float64
		matched := false
		for i, idx := range p.Sparse.Indices {
			q, ok := want[idx]
			if !ok {
				continue
			}
			matched = true
			score += float64(q) * idf[idx] * float64(p.Sparse.Values[i])
		}
		if matched {
			hits = append(hits, &ScoredPoint{ID: id, Score: float32(score), Payload: p.Payload})
		}
	}
	return hits
}

// Files lists every indexed file.
func (s *LocalStore) Files(_ context.Context, collection string) (map[string]*FileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(collection)
	if err != nil {
		return nil, err
	}
	files := make(map[string]*FileState)
	for _, id := range c.sortedIDs() {
		addFilePoint(files, id, c.points[id].Payload)
	}
	return files, nil
}

// Flush writes the snapshot of every modified collection.
func (s *LocalStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *LocalStore) flushLocked() error {
	if s.cfg.Dir == "" {
		clear(s.dirty)
		return nil
	}
	for name := range s.dirty {
		c, ok := s.collections[name]
		if !ok {
			delete(s.dirty, name)
			continue
		}
		if err := s.save(s.snapshotPath(name), c); err != nil {
			return errors.StoreUnavailable("flush", err).WithDetail("collection", name)
		}
		delete(s.dirty, name)
	}
	return nil
}

// Close flushes and releases the store.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	s.collections = nil
	return err
}

func (s *LocalStore) snapshotPath(collection string) string {
	return filepath.Join(s.cfg.Dir, collection+snapshotExt)
}

// save writes a snapshot atomically (temp file + rename).
func (s *LocalStore) save(path string, c *localCollection) error {
	snap := localSnapshot{Dims: c.dims, Points: make([]*Point, 0, len(c.points))}
	for _, id := range c.sortedIDs() {
		snap.Points = append(snap.Points, c.points[id])
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("snapshot_close_failed", slog.String("error", cerr.Error()))
		}
		_ = os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// load reads a snapshot and rebuilds the dense graph.
func (s *LocalStore) load(path string) (*localCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("snapshot_close_failed", slog.String("error", err.Error()))
		}
	}()

	var snap localSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	c := s.newCollection(snap.Dims)
	for _, p := range snap.Points {
		c.put(p)
	}
	return c, nil
}

func (c *localCollection) put(p *Point) {
	if old, ok := c.keys[p.ID]; ok {
		delete(c.ids, old)
	}
	key := c.nextKey
	c.nextKey++
	c.graph.Add(hnsw.MakeNode(key, p.Dense))
	c.keys[p.ID] = key
	c.ids[key] = p.ID
	c.points[p.ID] = p
}

func (c *localCollection) remove(id string) {
	if key, ok := c.keys[id]; ok {
		delete(c.ids, key)
		delete(c.keys, id)
	}
	delete(c.points, id)
}

// maybeCompact rebuilds the graph once orphans outnumber live points.
func (c *localCollection) maybeCompact() {
	orphans := c.graph.Len() - len(c.points)
	if orphans < minOrphansForCompaction || orphans <= len(c.points) {
		return
	}
	g := hnsw.NewGraph[uint64]()
	g.Distance = c.graph.Distance
	g.M = c.graph.M
	g.EfSearch = c.graph.EfSearch
	g.Ml = c.graph.Ml

	c.graph = g
	c.keys = make(map[string]uint64, len(c.points))
	c.ids = make(map[uint64]string, len(c.points))
	c.nextKey = 0
	for _, id := range c.sortedIDs() {
		p := c.points[id]
		key := c.nextKey
		c.nextKey++
		g.Add(hnsw.MakeNode(key, p.Dense))
		c.keys[id] = key
		c.ids[key] = id
	}
}

func (c *localCollection) sortedIDs() []string {
	ids := make([]string, 0, len(c.points))
	for id := range c.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortHits(hits []*ScoredPoint) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func clonePoint(p *Point) *Point {
	cp := *p
	cp.Dense = append([]float32(nil), p.Dense...)
	cp.Sparse = sparse.Vector{
		Indices: append([]uint32(nil), p.Sparse.Indices...),
		Values:  append([]float32(nil), p.Sparse.Values...),
	}
	return &cp
}

var _ VectorStore = (*LocalStore)(nil)
