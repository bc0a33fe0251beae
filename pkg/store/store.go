// Package store wires the HNSW vector index, the graph adjacency index,
// the metadata index, and the transaction manager behind the single
// public Store API spec.md §6 names: Add, Update, Delete, Relate,
// Unrelate, Get, Search, GetRelations, Transaction.
//
// The store keeps the canonical noun/verb records in memory (mirrored to
// the StorageAdapter on every mutation) because none of the three
// indexes retains a full record — HNSW keeps only vectors, the metadata
// index keeps only bitmaps, and the graph index keeps only edge
// endpoints — exactly the "each index exclusively owns its in-memory
// structures... no index holds references into another index's memory"
// ownership rule in spec.md §3.
package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/triadb/triadb/pkg/cache"
	"github.com/triadb/triadb/pkg/config"
	"github.com/triadb/triadb/pkg/graphindex"
	"github.com/triadb/triadb/pkg/hnsw"
	"github.com/triadb/triadb/pkg/metadataindex"
	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/planner"
	"github.com/triadb/triadb/pkg/storageadapter"
	"github.com/triadb/triadb/pkg/txn"
	"github.com/triadb/triadb/pkg/vector"
)

// Embedder turns arbitrary input into a fixed-dimension vector. The store
// never inspects its internals and no Store method calls it, per spec.md
// §6's embedding function collaborator contract.
type Embedder func(ctx context.Context, input any) ([]float32, error)

// Store is the embeddable triple-intelligence knowledge store.
type Store struct {
	cfg     *config.Config
	adapter storageadapter.StorageAdapter

	dimensions  int
	vector      *hnsw.Index
	graph       *graphindex.Index
	meta        *metadataindex.Index
	planner     *planner.Planner
	txMgr       *txn.Manager
	types       *model.TypeRegistry
	embedder    Embedder
	resultCache *cache.QueryCache

	mu    sync.RWMutex
	nouns map[model.NounID]*model.Noun
	verbs map[model.VerbID]*model.Verb
}

// Option configures optional Store behavior at construction.
type Option func(*Store)

// WithEmbedder attaches an embedding function to the store. The store
// only holds it; no Store method calls it.
func WithEmbedder(e Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// Open returns a Store over adapter, configured by cfg. cfg.Storage.Dimensions
// must be positive; it is the fixed vector width every noun's vector must
// satisfy for the lifetime of this store.
func Open(ctx context.Context, cfg *config.Config, adapter storageadapter.StorageAdapter, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, model.NewError(model.KindInvalidArgument, "store.Open", err)
	}

	hnswCfg := hnsw.Config{
		M:               cfg.HNSW.M,
		M0:              cfg.HNSW.M0,
		EfConstruction:  cfg.HNSW.EfConstruction,
		EfSearch:        cfg.HNSW.EfSearch,
		Metric:          metricFromString(cfg.HNSW.Metric),
		LevelMultiplier: 1.0 / math.Log(float64(cfg.HNSW.M)),
	}

	s := &Store{
		cfg:        cfg,
		adapter:    adapter,
		dimensions: cfg.Storage.Dimensions,
		vector:     hnsw.New(cfg.Storage.Dimensions, hnswCfg),
		graph:      graphindex.New(),
		meta:       metadataindex.New(),
		txMgr:      txn.NewManager(),
		types:      model.NewTypeRegistry(),
		nouns:      make(map[model.NounID]*model.Noun),
		verbs:      make(map[model.VerbID]*model.Verb),
	}
	if cfg.Cache.Enabled {
		s.resultCache = cache.NewQueryCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.rehydrateNouns(ctx); err != nil {
		return nil, err
	}
	if err := s.rehydrateVerbs(ctx); err != nil {
		return nil, err
	}
	if err := s.rebuildGraph(ctx); err != nil {
		return nil, err
	}
	s.planner = planner.New(s.vector, s.graph, s.meta, s)
	return s, nil
}

func metricFromString(m string) vector.Metric {
	switch m {
	case string(vector.MetricEuclidean):
		return vector.MetricEuclidean
	case string(vector.MetricDot):
		return vector.MetricDot
	default:
		return vector.MetricCosine
	}
}

// Dimensions reports the fixed vector width this store enforces.
func (s *Store) Dimensions() int { return s.dimensions }

// TransactionStats returns the manager's running totals, per spec.md
// §4.5's "Statistics" requirement.
func (s *Store) TransactionStats() txn.Stats { return s.txMgr.Stats() }

// invalidateCache drops every cached Search result. Called after any
// transaction that may have touched an index, committed or not, since a
// rolled-back write can still have mutated state before compensation ran.
func (s *Store) invalidateCache() {
	if s.resultCache != nil {
		s.resultCache.Clear()
	}
}

// Vector implements planner.NounLookup.
func (s *Store) Vector(_ context.Context, id model.NounID) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nouns[id]
	if !ok {
		return nil, false, nil
	}
	return n.Vector, true, nil
}

// Type implements planner.NounLookup.
func (s *Store) Type(_ context.Context, id model.NounID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nouns[id]
	if !ok {
		return "", false, nil
	}
	return n.Type, true, nil
}

const (
	nounKeyPrefixFmt = "nouns/%s/%s"
	verbKeyPrefix    = "verbs/"
)

func nounKey(n *model.Noun) string    { return fmt.Sprintf(nounKeyPrefixFmt, n.Type, n.ID) }
func verbKey(id model.VerbID) string { return verbKeyPrefix + string(id) }
