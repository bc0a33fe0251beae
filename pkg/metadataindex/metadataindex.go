// Package metadataindex provides fast exact, range, set-membership, and
// boolean filtering over noun metadata, returning roaring-bitmap posting
// lists of noun ids.
//
// Per field it keeps a hash index (value -> bitmap, for equality), a
// sorted run of (value, bitmap) pairs (for range and prefix queries, which
// scan the whole run), and a presence bitmap (for "exists"). Writes to a field are
// serialized through that field's mutex; reads take a lock-free snapshot
// of the field's copy-on-write root pointers, mirroring the teacher
// lineage's PropertyIndex/RangeIndex pair (pkg/storage/schema.go)
// rebuilt around roaring.Bitmap posting lists instead of plain []NodeID
// slices.
package metadataindex

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/triadb/triadb/pkg/model"
)

// rangeEntry is one distinct value and every noun-id bitmap position
// holding it, kept in ascending sorted order. Inserts binary-search for
// their position; range and prefix predicates scan every entry.
type rangeEntry struct {
	value  any
	bitmap *roaring.Bitmap
}

// fieldIndex is the per-field hash/sorted/presence structure.
type fieldIndex struct {
	mu sync.Mutex // serializes writers; readers never take this lock

	hash     atomic.Pointer[map[any]*roaring.Bitmap]
	sorted   atomic.Pointer[[]rangeEntry]
	presence atomic.Pointer[roaring.Bitmap]
}

func newFieldIndex() *fieldIndex {
	f := &fieldIndex{}
	empty := make(map[any]*roaring.Bitmap)
	f.hash.Store(&empty)
	emptySorted := []rangeEntry{}
	f.sorted.Store(&emptySorted)
	f.presence.Store(roaring.New())
	return f
}

// Index is the top-level metadata index: one fieldIndex per metadata
// field, plus the store-wide id<->uint32 mapping roaring bitmaps need
// (roaring operates on uint32 positions, not arbitrary string ids).
type Index struct {
	mu     sync.RWMutex
	fields map[string]*fieldIndex

	nextPos  uint32
	idToPos  map[model.NounID]uint32
	posToID  map[uint32]model.NounID
	allIDs   *roaring.Bitmap
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		fields:  make(map[string]*fieldIndex),
		idToPos: make(map[model.NounID]uint32),
		posToID: make(map[uint32]model.NounID),
		allIDs:  roaring.New(),
	}
}

func (idx *Index) posFor(id model.NounID) uint32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if pos, ok := idx.idToPos[id]; ok {
		return pos
	}
	pos := idx.nextPos
	idx.nextPos++
	idx.idToPos[id] = pos
	idx.posToID[pos] = id
	return pos
}

func (idx *Index) lookupPos(id model.NounID) (uint32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.idToPos[id]
	return pos, ok
}

func (idx *Index) idFor(pos uint32) (model.NounID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.posToID[pos]
	return id, ok
}

func (idx *Index) fieldFor(name string) *fieldIndex {
	idx.mu.RLock()
	f, ok := idx.fields[name]
	idx.mu.RUnlock()
	if ok {
		return f
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if f, ok := idx.fields[name]; ok {
		return f
	}
	f = newFieldIndex()
	idx.fields[name] = f
	return f
}

// AddNoun indexes n's flattened metadata (call model.FlattenMetadata
// first if it hasn't already been flattened). It is safe to call again
// for the same noun id after RemoveNoun.
func (idx *Index) AddNoun(n *model.Noun) {
	pos := idx.posFor(n.ID)
	idx.mu.Lock()
	idx.allIDs.Add(pos)
	idx.mu.Unlock()

	for field, value := range n.Metadata {
		idx.indexValue(field, value, pos)
	}
}

func (idx *Index) indexValue(field string, value any, pos uint32) {
	if seq, ok := asSequence(value); ok {
		for _, v := range seq {
			idx.addFieldValue(field, v, pos)
		}
		return
	}
	idx.addFieldValue(field, value, pos)
}

func (idx *Index) addFieldValue(field string, value any, pos uint32) {
	f := idx.fieldFor(field)
	f.mu.Lock()
	defer f.mu.Unlock()

	oldHash := *f.hash.Load()
	newHash := make(map[any]*roaring.Bitmap, len(oldHash)+1)
	for k, v := range oldHash {
		newHash[k] = v
	}
	key := normalizeKey(value)
	bm, ok := newHash[key]
	if !ok {
		bm = roaring.New()
	} else {
		bm = bm.Clone()
	}
	bm.Add(pos)
	newHash[key] = bm
	f.hash.Store(&newHash)

	newSorted := insertSorted(*f.sorted.Load(), key, bm)
	f.sorted.Store(&newSorted)

	presence := f.presence.Load().Clone()
	presence.Add(pos)
	f.presence.Store(presence)
}

func insertSorted(entries []rangeEntry, value any, bitmap *roaring.Bitmap) []rangeEntry {
	out := make([]rangeEntry, len(entries))
	copy(out, entries)
	i := sort.Search(len(out), func(i int) bool { return compareValues(out[i].value, value) >= 0 })
	if i < len(out) && compareValues(out[i].value, value) == 0 {
		out[i] = rangeEntry{value: value, bitmap: bitmap}
		return out
	}
	out = append(out, rangeEntry{})
	copy(out[i+1:], out[i:])
	out[i] = rangeEntry{value: value, bitmap: bitmap}
	return out
}

// RemoveNoun clears id from every field's bitmaps and the store-wide id
// mapping. Fields that drop to zero population are left in place; nothing
// removes them later.
func (idx *Index) RemoveNoun(n *model.Noun) {
	pos, ok := idx.lookupPos(n.ID)
	if !ok {
		return
	}
	idx.mu.Lock()
	idx.allIDs.Remove(pos)
	idx.mu.Unlock()

	for field, value := range n.Metadata {
		f := idx.fieldFor(field)
		f.mu.Lock()
		if seq, ok := asSequence(value); ok {
			for _, v := range seq {
				removeFieldValueLocked(f, v, pos)
			}
		} else {
			removeFieldValueLocked(f, value, pos)
		}
		f.mu.Unlock()
	}
}

func removeFieldValueLocked(f *fieldIndex, value any, pos uint32) {
	key := normalizeKey(value)
	oldHash := *f.hash.Load()
	bm, ok := oldHash[key]
	if !ok {
		return
	}
	bm = bm.Clone()
	bm.Remove(pos)

	newHash := make(map[any]*roaring.Bitmap, len(oldHash))
	for k, v := range oldHash {
		newHash[k] = v
	}
	newHash[key] = bm
	f.hash.Store(&newHash)

	sorted := *f.sorted.Load()
	newSorted := make([]rangeEntry, len(sorted))
	copy(newSorted, sorted)
	for i := range newSorted {
		if compareValues(newSorted[i].value, key) == 0 {
			newSorted[i].bitmap = bm
			break
		}
	}
	f.sorted.Store(&newSorted)

	presence := f.presence.Load().Clone()
	presence.Remove(pos)
	f.presence.Store(presence)
}

// Cardinality returns the exact number of nouns field==value indexes,
// used by the planner's cost estimator and the AND-reordering compiler.
func (idx *Index) Cardinality(field string, value any) uint64 {
	f := idx.fieldFor(field)
	hash := *f.hash.Load()
	bm, ok := hash[normalizeKey(value)]
	if !ok {
		return 0
	}
	return bm.GetCardinality()
}

// ToNounIDs translates a position bitmap back into NounIDs.
func (idx *Index) ToNounIDs(bm *roaring.Bitmap) []model.NounID {
	if bm == nil {
		return nil
	}
	out := make([]model.NounID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		pos := it.Next()
		if id, ok := idx.idFor(pos); ok {
			out = append(out, id)
		}
	}
	return out
}

func asSequence(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func normalizeKey(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return compareMixedTypes(a, b)
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 1
		}
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// compareMixedTypes orders values of unlike types by their type name, so
// a sorted run never panics on a field that mixes value types; it never
// needs to be reached by well-formed metadata (flattening keeps each
// field's values homogeneous in practice).
func compareMixedTypes(a, b any) int {
	ta, tb := fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	default:
		return 0
	}
}
