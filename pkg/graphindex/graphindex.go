// Package graphindex maintains typed directed edges (verbs) over nouns
// and answers adjacency and pathfinding queries.
//
// Two mappings are kept — out[sourceID][verbType] and in[targetID][verbType]
// — so neighbor enumeration by (id, direction, type) is O(1) lookup plus
// O(degree) iteration, generalizing the teacher lineage's
// GetOutgoingEdges/GetIncomingEdges adjacency lookups and its BFS/
// shortest-path traversal helpers to the three-axis store's typed,
// weighted edge model.
package graphindex

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/triadb/triadb/pkg/model"
)

// Direction selects which side of an edge to enumerate from.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// edgeRecord is the compact per-side representation of one verb.
type edgeRecord struct {
	VerbID       model.VerbID
	OtherEnd     model.NounID
	VerbType     string
	Weight       float64
	MetadataHash string
	Deleted      bool // the other endpoint has been deleted (dangling)
}

// Index is the graph adjacency index: typed directed edges with O(1)
// neighbor lookup and BFS/Dijkstra pathfinding.
type Index struct {
	mu  sync.RWMutex
	out map[model.NounID]map[string][]edgeRecord
	in  map[model.NounID]map[string][]edgeRecord
	// byVerbID lets RemoveEdge find both sides without a linear scan.
	byVerbID map[model.VerbID]edgeLocation
}

type edgeLocation struct {
	source, target model.NounID
	verbType       string
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		out:      make(map[model.NounID]map[string][]edgeRecord),
		in:       make(map[model.NounID]map[string][]edgeRecord),
		byVerbID: make(map[model.VerbID]edgeLocation),
	}
}

// MetadataHash deterministically hashes v's metadata for the idempotency
// key AddEdge dedups on: parallel verbs with the same (source, target,
// type) collapse to one edge unless their metadata differs, per the
// store's data model.
func MetadataHash(metadata map[string]any) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, metadata[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AddEdge records v in both the out and in adjacency maps. It is
// idempotent on (source, target, type, metadataHash): calling it twice
// with identical arguments leaves exactly one edge.
func (idx *Index) AddEdge(v *model.Verb) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	hash := MetadataHash(v.Metadata)
	rec := edgeRecord{VerbID: v.ID, OtherEnd: v.Target, VerbType: v.Type, Weight: v.Weight, MetadataHash: hash}
	if idx.hasIdenticalLocked(v.Source, v.Target, v.Type, hash) {
		return
	}

	outBucket := idx.out[v.Source]
	if outBucket == nil {
		outBucket = make(map[string][]edgeRecord)
		idx.out[v.Source] = outBucket
	}
	outBucket[v.Type] = append(outBucket[v.Type], rec)

	inBucket := idx.in[v.Target]
	if inBucket == nil {
		inBucket = make(map[string][]edgeRecord)
		idx.in[v.Target] = inBucket
	}
	inRec := rec
	inRec.OtherEnd = v.Source
	inBucket[v.Type] = append(inBucket[v.Type], inRec)

	idx.byVerbID[v.ID] = edgeLocation{source: v.Source, target: v.Target, verbType: v.Type}
}

func (idx *Index) hasIdenticalLocked(source, target model.NounID, verbType, hash string) bool {
	for _, rec := range idx.out[source][verbType] {
		if rec.OtherEnd == target && rec.MetadataHash == hash {
			return true
		}
	}
	return false
}

// RemoveEdge removes id from both sides of the adjacency index. Removing
// an id that isn't present is not an error.
func (idx *Index) RemoveEdge(id model.VerbID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	loc, ok := idx.byVerbID[id]
	if !ok {
		return
	}
	delete(idx.byVerbID, id)
	idx.out[loc.source][loc.verbType] = removeByVerbID(idx.out[loc.source][loc.verbType], id)
	idx.in[loc.target][loc.verbType] = removeByVerbID(idx.in[loc.target][loc.verbType], id)
}

func removeByVerbID(edges []edgeRecord, id model.VerbID) []edgeRecord {
	out := edges[:0]
	for _, e := range edges {
		if e.VerbID != id {
			out = append(out, e)
		}
	}
	return out
}

// MarkDeleted flags every edge touching noun id (on whichever side it
// sits) as dangling, without removing it, per spec.md §4.2's "dangling
// endpoints are returned with a deleted:true flag".
func (idx *Index) MarkDeleted(id model.NounID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, bucket := range idx.out {
		for vt, edges := range bucket {
			for i := range edges {
				if edges[i].OtherEnd == id {
					edges[i].Deleted = true
				}
			}
			bucket[vt] = edges
		}
	}
	for _, bucket := range idx.in {
		for vt, edges := range bucket {
			for i := range edges {
				if edges[i].OtherEnd == id {
					edges[i].Deleted = true
				}
			}
			bucket[vt] = edges
		}
	}
}

// Neighbor is one edge returned by Neighbors, carrying the id on the
// other end and whether that endpoint is a known-deleted dangling ref.
type Neighbor struct {
	VerbID   model.VerbID
	NounID   model.NounID
	VerbType string
	Weight   float64
	Deleted  bool
}

// Neighbors returns id's neighbors in direction, optionally restricted to
// types. A nil/empty types filter returns every verb type.
func (idx *Index) Neighbors(id model.NounID, direction Direction, types []string) []Neighbor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Neighbor
	if direction == DirectionOut || direction == DirectionBoth {
		out = append(out, collectNeighbors(idx.out[id], types)...)
	}
	if direction == DirectionIn || direction == DirectionBoth {
		out = append(out, collectNeighbors(idx.in[id], types)...)
	}
	return out
}

func collectNeighbors(bucket map[string][]edgeRecord, types []string) []Neighbor {
	var out []Neighbor
	emit := func(vt string, edges []edgeRecord) {
		for _, e := range edges {
			out = append(out, Neighbor{VerbID: e.VerbID, NounID: e.OtherEnd, VerbType: vt, Weight: e.Weight, Deleted: e.Deleted})
		}
	}
	if len(types) == 0 {
		for vt, edges := range bucket {
			emit(vt, edges)
		}
		return out
	}
	for _, vt := range types {
		emit(vt, bucket[vt])
	}
	return out
}

// PathOptions configures ShortestPath and Neighborhood traversal.
type PathOptions struct {
	MaxDepth         int // default 6
	AllowedVerbTypes []string // default: all
	Direction        Direction // default out
	WeightFn         func(weight float64) float64 // default 1/weight
}

// DefaultPathOptions returns MaxDepth=6, all verb types, direction out,
// weightFn = 1/edge.weight, matching spec.md §4.2.
func DefaultPathOptions() PathOptions {
	return PathOptions{
		MaxDepth:  6,
		Direction: DirectionOut,
		WeightFn:  func(weight float64) float64 { return 1 / weight },
	}
}

func (o PathOptions) normalized() PathOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 6
	}
	if o.Direction == "" {
		o.Direction = DirectionOut
	}
	if o.WeightFn == nil {
		o.WeightFn = func(weight float64) float64 {
			if weight <= 0 {
				return 1
			}
			return 1 / weight
		}
	}
	return o
}

// Path is the result of a successful ShortestPath call.
type Path struct {
	Nouns  []model.NounID
	Length int // hop count
}

// ShortestPath finds the shortest route from src to dst honoring opts.
// It dispatches to Dijkstra when any edge in the index of an allowed verb
// type has a weight other than 1 (whether or not the search reaches it),
// and falls back to plain BFS (which is Dijkstra with uniform cost, but
// cheaper) when all of them weigh 1 — per spec.md §4.2.
func (idx *Index) ShortestPath(ctx context.Context, src, dst model.NounID, opts PathOptions) (*Path, error) {
	opts = opts.normalized()
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if src == dst {
		return &Path{Nouns: []model.NounID{src}, Length: 0}, nil
	}
	if idx.hasNonUnitWeightLocked(opts) {
		return idx.dijkstraLocked(ctx, src, dst, opts)
	}
	return idx.bfsLocked(ctx, src, dst, opts)
}

func (idx *Index) hasNonUnitWeightLocked(opts PathOptions) bool {
	check := func(m map[model.NounID]map[string][]edgeRecord) bool {
		for _, bucket := range m {
			for vt, edges := range bucket {
				if !typeAllowed(vt, opts.AllowedVerbTypes) {
					continue
				}
				for _, e := range edges {
					if e.Weight != 1 {
						return true
					}
				}
			}
		}
		return false
	}
	if opts.Direction != DirectionIn && check(idx.out) {
		return true
	}
	if opts.Direction != DirectionOut && check(idx.in) {
		return true
	}
	return false
}

func typeAllowed(vt string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == vt {
			return true
		}
	}
	return false
}

func (idx *Index) edgesFromLocked(id model.NounID, opts PathOptions) []edgeRecord {
	var out []edgeRecord
	collect := func(bucket map[string][]edgeRecord) {
		for vt, edges := range bucket {
			if !typeAllowed(vt, opts.AllowedVerbTypes) {
				continue
			}
			out = append(out, edges...)
		}
	}
	if opts.Direction == DirectionOut || opts.Direction == DirectionBoth {
		collect(idx.out[id])
	}
	if opts.Direction == DirectionIn || opts.Direction == DirectionBoth {
		collect(idx.in[id])
	}
	return out
}

func (idx *Index) bfsLocked(ctx context.Context, src, dst model.NounID, opts PathOptions) (*Path, error) {
	type queued struct {
		id   model.NounID
		path []model.NounID
	}
	visited := map[model.NounID]bool{src: true}
	queue := []queued{{id: src, path: []model.NounID{src}}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, model.NewError(model.KindCancelled, "graphindex.ShortestPath", err)
		}
		head := queue[0]
		queue = queue[1:]
		if len(head.path)-1 >= opts.MaxDepth {
			continue
		}
		for _, e := range idx.edgesFromLocked(head.id, opts) {
			if visited[e.OtherEnd] {
				continue
			}
			nextPath := append(append([]model.NounID{}, head.path...), e.OtherEnd)
			if e.OtherEnd == dst {
				return &Path{Nouns: nextPath, Length: len(nextPath) - 1}, nil
			}
			visited[e.OtherEnd] = true
			queue = append(queue, queued{id: e.OtherEnd, path: nextPath})
		}
	}
	return nil, model.NewError(model.KindNotFound, "graphindex.ShortestPath", fmt.Errorf("no path from %s to %s within %d hops", src, dst, opts.MaxDepth))
}

type pqItem struct {
	id   model.NounID
	dist float64
	path []model.NounID
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)         { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	x := old[n-1]
	*pq = old[:n-1]
	return x
}

func (idx *Index) dijkstraLocked(ctx context.Context, src, dst model.NounID, opts PathOptions) (*Path, error) {
	dist := map[model.NounID]float64{src: 0}
	pq := &priorityQueue{{id: src, dist: 0, path: []model.NounID{src}}}
	heap.Init(pq)

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, model.NewError(model.KindCancelled, "graphindex.ShortestPath", err)
		}
		cur := heap.Pop(pq).(pqItem)
		if cur.dist > dist[cur.id] {
			continue
		}
		if cur.id == dst {
			return &Path{Nouns: cur.path, Length: len(cur.path) - 1}, nil
		}
		if len(cur.path)-1 >= opts.MaxDepth {
			continue
		}
		for _, e := range idx.edgesFromLocked(cur.id, opts) {
			cost := opts.WeightFn(e.Weight)
			nd := cur.dist + cost
			if existing, ok := dist[e.OtherEnd]; ok && existing <= nd {
				continue
			}
			dist[e.OtherEnd] = nd
			nextPath := append(append([]model.NounID{}, cur.path...), e.OtherEnd)
			heap.Push(pq, pqItem{id: e.OtherEnd, dist: nd, path: nextPath})
		}
	}
	return nil, model.NewError(model.KindNotFound, "graphindex.ShortestPath", fmt.Errorf("no path from %s to %s within %d hops", src, dst, opts.MaxDepth))
}

// Neighborhood returns every noun within radius hops of id (bounded BFS),
// not including id itself, except that a radius of 0 returns just the
// start set, {id} — there is nothing else within zero hops to report.
func (idx *Index) Neighborhood(ctx context.Context, id model.NounID, radius int) ([]model.NounID, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if radius <= 0 {
		return []model.NounID{id}, nil
	}

	opts := DefaultPathOptions()
	opts.MaxDepth = radius
	visited := map[model.NounID]bool{id: true}
	frontier := []model.NounID{id}
	var result []model.NounID

	for depth := 0; depth < radius && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, model.NewError(model.KindCancelled, "graphindex.Neighborhood", err)
		}
		var next []model.NounID
		for _, cur := range frontier {
			for _, e := range idx.edgesFromLocked(cur, opts) {
				if visited[e.OtherEnd] {
					continue
				}
				visited[e.OtherEnd] = true
				result = append(result, e.OtherEnd)
				next = append(next, e.OtherEnd)
			}
		}
		frontier = next
	}
	return result, nil
}
