// Package planner implements the Triple Intelligence query planner:
// given a query that mixes a vector axis, a graph axis, and a metadata
// axis, it estimates each present axis's result-set size, executes the
// cheapest axis first, and treats the rest as post-filters, finally
// fusing all three into one weighted-sum ranked result.
//
// This plays the same architectural role as the teacher lineage's hybrid
// search Service (pkg/search/search.go): estimate cost per axis, pick an
// execution mode, merge. Where the teacher fuses vector+BM25 by
// reciprocal-rank fusion, this planner fuses vector+graph+metadata by a
// weighted score sum (spec.md §4.4 mandates a score, not a rank fusion).
package planner

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/triadb/triadb/pkg/graphindex"
	"github.com/triadb/triadb/pkg/hnsw"
	"github.com/triadb/triadb/pkg/metadataindex"
	"github.com/triadb/triadb/pkg/model"
)

// Weights controls how the vector/graph/metadata axis scores combine
// into the final ranking score.
type Weights struct {
	Alpha float64 // vector
	Beta  float64 // graph
	Gamma float64 // metadata
}

// DefaultWeights returns spec.md §4.4's defaults: alpha=0.7, beta=0.2,
// gamma=0.1.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.7, Beta: 0.2, Gamma: 0.1}
}

// Mode names which execution strategy Search picked for a given query.
type Mode string

const (
	ModeFilterFirst Mode = "filter_first"
	ModeVectorFirst Mode = "vector_first"
	ModeGraphFirst  Mode = "graph_first"
)

// Query is the planner's input: any subset of a vector KNN request, a
// graph-traversal constraint, and a metadata filter, restricted to the
// given noun types if non-empty.
type Query struct {
	Vector        []float32
	K             int
	MinSimilarity float64
	EfSearch      int // 0 means use the HNSW index's configured default

	GraphStart       []model.NounID
	GraphMaxDepth    int // 0 means graphindex.DefaultPathOptions().MaxDepth
	GraphVerbTypes   []string
	GraphDirection   graphindex.Direction

	Filter metadataindex.Expr

	TypeRestriction []string

	Weights Weights
}

// Result is one fused, scored match.
type Result struct {
	ID            model.NounID
	Score         float64
	VectorScore   float64
	GraphScore    float64
	MetadataScore float64
}

// NounLookup resolves a noun's vector and type by id, letting the
// planner score/post-filter candidates that didn't come from an HNSW
// search (e.g. a filter-first or graph-first run) without owning noun
// storage itself — a capability interface per the store's "pluggable
// policies" design rule, rather than the planner reaching into a global
// store.
type NounLookup interface {
	Vector(ctx context.Context, id model.NounID) ([]float32, bool, error)
	Type(ctx context.Context, id model.NounID) (string, bool, error)
}

// costFactor is the "C" in spec.md §4.4's filter-first admission test:
// metadata cardinality <= k*C.
const costFactor = 4

// overshoot is HNSW efSearch's minimum multiplier over k in vector-first
// mode, per spec.md §4.4.
const overshoot = 2

// avgDegreeEstimate approximates a noun's average out-degree for the
// graph axis's depth*avg-degree cost heuristic when no better estimate
// is available.
const avgDegreeEstimate = 10

// Planner fuses the three indexes into ranked results.
type Planner struct {
	hnsw   *hnsw.Index
	graph  *graphindex.Index
	meta   *metadataindex.Index
	lookup NounLookup
}

// New returns a Planner over the given indexes and noun lookup
// capability.
func New(vectorIndex *hnsw.Index, graphIndex *graphindex.Index, metaIndex *metadataindex.Index, lookup NounLookup) *Planner {
	return &Planner{hnsw: vectorIndex, graph: graphIndex, meta: metaIndex, lookup: lookup}
}

// Search runs q and returns up to q.K fused, ranked results (or every
// matching result if q.K is 0 and only a metadata/graph axis is
// present).
func (p *Planner) Search(ctx context.Context, q Query) ([]Result, Mode, error) {
	weights := q.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	hasVector := len(q.Vector) > 0
	hasGraph := len(q.GraphStart) > 0
	hasFilter := q.Filter != nil

	if !hasVector && !hasGraph && !hasFilter {
		return nil, "", model.NewError(model.KindInvalidArgument, "planner.Search", errEmptyQuery)
	}

	mode := p.chooseMode(q, hasVector, hasGraph, hasFilter)

	var candidates []Result
	var err error
	switch mode {
	case ModeFilterFirst:
		candidates, err = p.filterFirst(ctx, q)
	case ModeVectorFirst:
		candidates, err = p.vectorFirst(ctx, q)
	case ModeGraphFirst:
		candidates, err = p.graphFirst(ctx, q)
	}
	if err != nil {
		return nil, mode, err
	}

	candidates = p.scoreAndFilter(ctx, q, candidates, hasVector, hasGraph, hasFilter, weights)

	sortResults(candidates)
	if q.K > 0 && len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	return candidates, mode, nil
}

var errEmptyQuery = emptyQueryError{}

type emptyQueryError struct{}

func (emptyQueryError) Error() string {
	return "query must specify at least one of vector, graph, or filter"
}

func (p *Planner) chooseMode(q Query, hasVector, hasGraph, hasFilter bool) Mode {
	metaCost := uint64(math.MaxUint64)
	if hasFilter {
		metaCost = p.meta.Estimate(q.Filter)
	}
	graphCost := uint64(math.MaxUint64)
	if hasGraph {
		depth := q.GraphMaxDepth
		if depth <= 0 {
			depth = graphindex.DefaultPathOptions().MaxDepth
		}
		graphCost = uint64(depth) * avgDegreeEstimate
	}
	vectorCost := uint64(math.MaxUint64)
	if hasVector {
		ef := q.EfSearch
		if ef <= 0 {
			ef = 50
		}
		k := q.K
		if k <= 0 {
			k = 1
		}
		vectorCost = uint64(k) * uint64(ef)
	}

	if hasFilter && metaCost <= uint64(maxInt(q.K, 1))*costFactor {
		return ModeFilterFirst
	}
	if hasVector && vectorCost <= graphCost {
		return ModeVectorFirst
	}
	if hasGraph {
		return ModeGraphFirst
	}
	if hasVector {
		return ModeVectorFirst
	}
	return ModeFilterFirst
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// filterFirst computes the metadata bitmap, fetches vectors for those
// ids, and does an exact top-k scan against q.Vector if present.
func (p *Planner) filterFirst(ctx context.Context, q Query) ([]Result, error) {
	ids := p.meta.Eval(q.Filter)
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, model.NewError(model.KindCancelled, "planner.filterFirst", err)
		}
		if !p.typeAllowed(ctx, id, q.TypeRestriction) {
			continue
		}
		out = append(out, Result{ID: id, MetadataScore: 1})
	}
	return out, nil
}

// vectorFirst runs HNSW with an inflated efSearch, then relies on
// scoreAndFilter to apply the metadata/graph post-filters; per spec.md
// §4.4 it "refills from the HNSW result stream until k accepted results
// or stream exhausted", approximated here by requesting k*overshoot
// candidates up front rather than an incremental refill loop, since HNSW
// partitions are resident in memory and a second pass is cheap.
//
// Each restricted type is its own HNSW partition, so the per-type
// searches are independent and run concurrently via errgroup, the same
// fan-out-then-join shape spec.md §5's high-volume mode uses for batched
// writes, applied here to the read path's partition scan.
func (p *Planner) vectorFirst(ctx context.Context, q Query) ([]Result, error) {
	k := q.K
	if k <= 0 {
		k = 10
	}
	ef := q.EfSearch
	if ef <= 0 {
		ef = 50
	}
	if ef < k*overshoot {
		ef = k * overshoot
	}

	types := q.TypeRestriction
	if len(types) == 0 {
		// HNSW is type-partitioned, so there is nothing to search without
		// a type restriction. The only way a vector query reaches here
		// with none is an empty store (Store.Search widens an unset
		// restriction from the type registry, which has registered
		// nothing yet) — an empty result, not an error, per spec.md §8.
		return nil, nil
	}

	perType := make([][]Result, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, nounType := range types {
		i, nounType := i, nounType
		g.Go(func() error {
			// minScore is left unfiltered here (-1, below any possible
			// cosine or Euclidean-derived score) because q.MinSimilarity
			// is defined against the planner's normalized [0,1] score,
			// not HNSW's raw per-metric score; the normalized threshold
			// is applied below.
			results, err := p.hnsw.Search(gctx, nounType, q.Vector, ef, -1)
			if err != nil {
				return err
			}
			out := make([]Result, 0, len(results))
			for _, r := range results {
				score := normalizeHNSWScore(r.Score)
				if score < q.MinSimilarity {
					continue
				}
				out = append(out, Result{ID: r.ID, VectorScore: score})
			}
			perType[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Result
	for _, results := range perType {
		out = append(out, results...)
	}
	return out, nil
}

// graphFirst expands the neighborhood of every start node up to
// GraphMaxDepth hops, treating the expansion itself as the candidate set
// for vector/metadata post-filtering.
func (p *Planner) graphFirst(ctx context.Context, q Query) ([]Result, error) {
	depth := q.GraphMaxDepth
	if depth <= 0 {
		depth = graphindex.DefaultPathOptions().MaxDepth
	}
	seen := make(map[model.NounID]bool)
	var out []Result
	for _, start := range q.GraphStart {
		ids, err := p.graph.Neighborhood(ctx, start, depth)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if !p.typeAllowed(ctx, id, q.TypeRestriction) {
				continue
			}
			out = append(out, Result{ID: id})
		}
	}
	return out, nil
}

func (p *Planner) typeAllowed(ctx context.Context, id model.NounID, types []string) bool {
	if len(types) == 0 || p.lookup == nil {
		return true
	}
	t, ok, err := p.lookup.Type(ctx, id)
	if err != nil || !ok {
		return false
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// scoreAndFilter applies whichever axes weren't the primary execution
// path as post-filters/post-scorers, then computes the weighted-sum
// score for every surviving candidate.
func (p *Planner) scoreAndFilter(ctx context.Context, q Query, candidates []Result, hasVector, hasGraph, hasFilter bool, weights Weights) []Result {
	var filterBitmapIDs map[model.NounID]bool
	if hasFilter {
		ids := p.meta.Eval(q.Filter)
		filterBitmapIDs = make(map[model.NounID]bool, len(ids))
		for _, id := range ids {
			filterBitmapIDs[id] = true
		}
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if hasFilter && c.MetadataScore == 0 {
			if !filterBitmapIDs[c.ID] {
				continue
			}
			c.MetadataScore = 1
		}
		if hasVector && c.VectorScore == 0 {
			vec, ok, err := p.lookupVector(ctx, c.ID)
			if err != nil || !ok {
				continue
			}
			c.VectorScore = cosineScore(q.Vector, vec)
			if c.VectorScore < q.MinSimilarity {
				continue
			}
		}
		if hasGraph && c.GraphScore == 0 {
			hops, ok := p.minHops(ctx, q.GraphStart, c.ID, q)
			if !ok {
				continue
			}
			c.GraphScore = 1.0 / (1.0 + float64(hops))
		}
		c.Score = weights.Alpha*c.VectorScore + weights.Beta*c.GraphScore + weights.Gamma*c.MetadataScore
		out = append(out, c)
	}
	return out
}

func (p *Planner) lookupVector(ctx context.Context, id model.NounID) ([]float32, bool, error) {
	if p.lookup == nil {
		return nil, false, nil
	}
	return p.lookup.Vector(ctx, id)
}

func (p *Planner) minHops(ctx context.Context, starts []model.NounID, dst model.NounID, q Query) (int, bool) {
	opts := graphindex.DefaultPathOptions()
	if q.GraphMaxDepth > 0 {
		opts.MaxDepth = q.GraphMaxDepth
	}
	if len(q.GraphVerbTypes) > 0 {
		opts.AllowedVerbTypes = q.GraphVerbTypes
	}
	if q.GraphDirection != "" {
		opts.Direction = q.GraphDirection
	}

	best := -1
	for _, start := range starts {
		path, err := p.graph.ShortestPath(ctx, start, dst, opts)
		if err != nil {
			continue
		}
		if best == -1 || path.Length < best {
			best = path.Length
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// normalizeHNSWScore maps an hnsw.Result.Score onto the planner's [0,1]
// normalized vector axis. Cosine/dot scores arrive as raw similarity in
// [-1,1] and are rescaled; a Euclidean score already lies in (0,1] (it is
// 1/(1+dist)) and passes through unchanged, since rescaling it again
// would compress already-comparable values.
func normalizeHNSWScore(score float64) float64 {
	if score >= 0 && score <= 1 {
		return score
	}
	normalized := (score + 1) / 2
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

func cosineScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2 // normalize [-1,1] to [0,1] per spec.md §4.4
}

// sortResults orders by descending score, tie-broken by ascending noun
// id for determinism, per spec.md §4.4.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
