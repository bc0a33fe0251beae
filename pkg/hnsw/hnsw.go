// Package hnsw implements a type-partitioned Hierarchical Navigable Small
// World index: one independent HNSW graph per noun type, each guarded by
// its own lock, so a hot type never contends with a cold one.
//
// Layer assignment, greedy descent, and heuristic neighbor selection
// follow the single-partition HNSW construction the search package used
// for its flat vector index; this package generalizes that construction
// to many partitions plus soft-delete tombstones and an explicit,
// caller-triggered Compact.
package hnsw

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/vector"
)

// Config controls the shape of every partition in an Index.
type Config struct {
	M               int // max neighbors per node per layer above 0
	M0              int // max neighbors per node at layer 0
	EfConstruction  int
	EfSearch        int
	Metric          vector.Metric
	LevelMultiplier float64
}

// DefaultConfig returns M=16, M0=32, EfConstruction=200, EfSearch=50,
// cosine similarity.
func DefaultConfig() Config {
	return Config{
		M:               16,
		M0:              32,
		EfConstruction:  200,
		EfSearch:        50,
		Metric:          vector.MetricCosine,
		LevelMultiplier: 1.0 / math.Log(16.0),
	}
}

// node is a single vector's position in one partition's layered graph.
type node struct {
	id        model.NounID
	vector    []float32
	level     int
	neighbors [][]model.NounID
	deleted   bool
	mu        sync.RWMutex
}

// partition is one noun type's independent HNSW graph.
type partition struct {
	mu         sync.RWMutex
	nounType   string
	dimensions int
	nodes      map[model.NounID]*node
	entryPoint model.NounID
	maxLevel   int
	tombstones int
}

// Index is the top-level type-partitioned HNSW vector index.
type Index struct {
	config     Config
	dimensions int

	mu         sync.RWMutex
	partitions map[string]*partition
}

// New returns an empty Index. dimensions is the fixed vector width every
// noun added to this store must satisfy.
func New(dimensions int, cfg Config) *Index {
	if cfg.M == 0 {
		cfg = DefaultConfig()
	}
	return &Index{
		config:     cfg,
		dimensions: dimensions,
		partitions: make(map[string]*partition),
	}
}

func (idx *Index) partitionFor(nounType string) *partition {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.partitions[nounType]
	if !ok {
		p = &partition{
			nounType:   nounType,
			dimensions: idx.dimensions,
			nodes:      make(map[model.NounID]*node),
			maxLevel:   0,
		}
		idx.partitions[nounType] = p
	}
	return p
}

// Add inserts n's vector into its type partition. n.Vector must already be
// len == Index dimensions; it is normalized internally for cosine/dot
// metrics so callers never need to normalize themselves.
func (idx *Index) Add(n *model.Noun) error {
	if len(n.Vector) != idx.dimensions {
		return model.NewError(model.KindInvalidArgument, "hnsw.Add",
			dimensionMismatch(idx.dimensions, len(n.Vector)))
	}
	p := idx.partitionFor(n.Type)
	return p.add(idx.config, n.ID, n.Vector)
}

func (p *partition) add(cfg Config, id model.NounID, vec []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := vec
	if cfg.Metric != vector.MetricEuclidean {
		stored = vector.Normalize(vec)
	}
	level := randomLevel(cfg.LevelMultiplier)

	nd := &node{
		id:        id,
		vector:    stored,
		level:     level,
		neighbors: make([][]model.NounID, level+1),
	}
	for i := range nd.neighbors {
		cap := cfg.M
		if i == 0 {
			cap = cfg.M0
		}
		nd.neighbors[i] = make([]model.NounID, 0, cap)
	}
	if old, ok := p.nodes[id]; ok && old.deleted {
		p.tombstones--
	}
	p.nodes[id] = nd

	if p.entryPoint == "" {
		p.entryPoint = id
		p.maxLevel = level
		return nil
	}

	ep := p.entryPoint
	epLevel := p.nodes[ep].level
	metric := cfg.Metric

	for l := epLevel; l > level; l-- {
		ep = p.searchLayerSingle(metric, stored, ep, l)
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		maxM := cfg.M
		if l == 0 {
			maxM = cfg.M0
		}
		candidates := p.searchLayer(metric, stored, ep, cfg.EfConstruction, l)
		neighbors := p.selectNeighbors(metric, stored, candidates, maxM)
		nd.neighbors[l] = neighbors

		for _, nbID := range neighbors {
			nb := p.nodes[nbID]
			nb.mu.Lock()
			if len(nb.neighbors) > l {
				if len(nb.neighbors[l]) < maxM {
					nb.neighbors[l] = append(nb.neighbors[l], id)
				} else {
					all := append(append([]model.NounID{}, nb.neighbors[l]...), id)
					nb.neighbors[l] = p.selectNeighbors(metric, nb.vector, all, maxM)
				}
			}
			nb.mu.Unlock()
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > p.maxLevel {
		p.entryPoint = id
		p.maxLevel = level
	}
	return nil
}

// Remove tombstones id within its type partition rather than unlinking it
// immediately. Tombstoned nodes stay in the partition until Compact is
// called for that type; nothing in the index calls Compact on its own.
func (idx *Index) Remove(nounType string, id model.NounID) {
	idx.mu.RLock()
	p, ok := idx.partitions[nounType]
	idx.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	nd, ok := p.nodes[id]
	if !ok || nd.deleted {
		return
	}
	nd.deleted = true
	p.tombstones++
}

// TombstoneRatio reports the fraction of tombstoned-but-not-yet-compacted
// nodes in nounType's partition.
func (idx *Index) TombstoneRatio(nounType string) float64 {
	idx.mu.RLock()
	p, ok := idx.partitions[nounType]
	idx.mu.RUnlock()
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.nodes) == 0 {
		return 0
	}
	return float64(p.tombstones) / float64(len(p.nodes))
}

// Compact rebuilds nounType's partition from only its live (non-tombstoned)
// nodes, discarding every tombstone and re-running construction so the
// rebuilt graph holds no dangling neighbor-list entries. Per spec.md §3,
// callers trigger this once TombstoneRatio crosses 30%; the index itself
// has no ticker or threshold policy of its own. A partition with no live
// nodes left is dropped entirely.
func (idx *Index) Compact(nounType string) {
	idx.mu.RLock()
	p, ok := idx.partitions[nounType]
	idx.mu.RUnlock()
	if !ok {
		return
	}

	p.mu.RLock()
	live := make([]*node, 0, len(p.nodes))
	for _, nd := range p.nodes {
		if !nd.deleted {
			live = append(live, nd)
		}
	}
	dimensions := p.dimensions
	p.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(live) == 0 {
		delete(idx.partitions, nounType)
		return
	}
	fresh := &partition{
		nounType:   nounType,
		dimensions: dimensions,
		nodes:      make(map[model.NounID]*node, len(live)),
	}
	for _, nd := range live {
		fresh.add(idx.config, nd.id, nd.vector)
	}
	idx.partitions[nounType] = fresh
}

// Result is one scored match from Search.
type Result struct {
	ID    model.NounID
	Score float64
}

// Search returns up to k nearest neighbors of query within nounType's
// partition, honoring ctx cancellation between candidate scans.
func (idx *Index) Search(ctx context.Context, nounType string, query []float32, k int, minScore float64) ([]Result, error) {
	if len(query) != idx.dimensions {
		return nil, model.NewError(model.KindInvalidArgument, "hnsw.Search",
			dimensionMismatch(idx.dimensions, len(query)))
	}
	idx.mu.RLock()
	p, ok := idx.partitions[nounType]
	idx.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return p.search(ctx, idx.config, query, k, minScore)
}

func (p *partition) search(ctx context.Context, cfg Config, query []float32, k int, minScore float64) ([]Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.nodes) == 0 {
		return nil, nil
	}

	metric := cfg.Metric
	stored := query
	if metric != vector.MetricEuclidean {
		stored = vector.Normalize(query)
	}

	ep := p.entryPoint
	for l := p.maxLevel; l > 0; l-- {
		ep = p.searchLayerSingle(metric, stored, ep, l)
	}

	ef := cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := p.searchLayer(metric, stored, ep, ef, 0)

	results := make([]Result, 0, k)
	for _, candID := range candidates {
		if err := ctx.Err(); err != nil {
			return results, model.NewError(model.KindCancelled, "hnsw.Search", err)
		}
		nd := p.nodes[candID]
		if nd.deleted {
			continue
		}
		score := scoreFromDistance(metric, 1.0-vector.DotProduct(stored, nd.vector))
		if metric == vector.MetricEuclidean {
			score = scoreFromDistance(metric, vector.EuclideanDistance(stored, nd.vector))
		}
		if score >= minScore {
			results = append(results, Result{ID: candID, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func scoreFromDistance(metric vector.Metric, dist float64) float64 {
	if metric == vector.MetricEuclidean {
		return 1.0 / (1.0 + dist)
	}
	return 1.0 - dist
}

func (p *partition) distance(metric vector.Metric, query []float32, id model.NounID) float64 {
	return vector.Distance(metric, query, p.nodes[id].vector)
}

func (p *partition) searchLayerSingle(metric vector.Metric, query []float32, entryID model.NounID, level int) model.NounID {
	current := entryID
	currentDist := p.distance(metric, query, current)

	for {
		changed := false
		nd := p.nodes[current]
		nd.mu.RLock()
		neighbors := nd.neighbors[level]
		nd.mu.RUnlock()

		for _, nbID := range neighbors {
			dist := p.distance(metric, query, nbID)
			if dist < currentDist {
				current = nbID
				currentDist = dist
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current
}

func (p *partition) searchLayer(metric vector.Metric, query []float32, entryID model.NounID, ef, level int) []model.NounID {
	visited := map[model.NounID]bool{entryID: true}

	candidates := &distHeap{}
	results := &distHeap{}
	heap.Init(candidates)
	heap.Init(results)

	entryDist := p.distance(metric, query, entryID)
	heap.Push(candidates, distItem{id: entryID, dist: entryDist})
	heap.Push(results, distItem{id: entryID, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)
		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		nd := p.nodes[closest.id]
		nd.mu.RLock()
		neighbors := nd.neighbors[level]
		nd.mu.RUnlock()

		for _, nbID := range neighbors {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			dist := p.distance(metric, query, nbID)
			if results.Len() < ef || dist < (*results)[0].dist {
				heap.Push(candidates, distItem{id: nbID, dist: dist})
				heap.Push(results, distItem{id: nbID, dist: dist, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]model.NounID, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).id
	}
	return out
}

// selectNeighbors implements the HNSW diversity heuristic: candidates are
// visited closest-to-query first, and a candidate is kept only if it is
// not closer to an already-kept neighbor than it is to the query (the new
// node). This prunes clustered candidates in favor of ones that spread
// across directions, instead of just taking the m closest by raw
// distance. If the heuristic admits fewer than m neighbors, the closest
// remaining rejected candidates backfill the rest, so a node is never
// left with fewer neighbors than the candidate pool could supply.
func (p *partition) selectNeighbors(metric vector.Metric, query []float32, candidates []model.NounID, m int) []model.NounID {
	if len(candidates) <= m {
		return candidates
	}
	type scored struct {
		id   model.NounID
		dist float64
	}
	all := make([]scored, len(candidates))
	for i, c := range candidates {
		all[i] = scored{id: c, dist: p.distance(metric, query, c)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	selected := make([]model.NounID, 0, m)
	for _, cand := range all {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if p.distance(metric, p.nodes[cand.id].vector, s) < cand.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, cand.id)
		}
	}

	if len(selected) < m {
		kept := make(map[model.NounID]bool, len(selected))
		for _, id := range selected {
			kept[id] = true
		}
		for _, cand := range all {
			if len(selected) >= m {
				break
			}
			if !kept[cand.id] {
				selected = append(selected, cand.id)
				kept[cand.id] = true
			}
		}
	}
	return selected
}

func randomLevel(levelMultiplier float64) int {
	r := rand.Float64()
	if r == 0 {
		r = 1e-12
	}
	return int(-math.Log(r) * levelMultiplier)
}

func dimensionMismatch(want, got int) error {
	return fmt.Errorf("vector dimension mismatch: index expects %d, got %d", want, got)
}

// distItem/distHeap implement a min-heap (candidates) or max-heap
// (results, via isMax) over partial distances, following the search
// heap pattern the flat vector index used.
type distItem struct {
	id    model.NounID
	dist  float64
	isMax bool
}

type distHeap []distItem

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].isMax {
		return h[i].dist > h[j].dist
	}
	return h[i].dist < h[j].dist
}
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
