package graphindex

import (
	"context"
	"encoding/json"

	"github.com/triadb/triadb/pkg/model"
)

// RawVerbEnumerator is the only capability Rebuild is allowed to depend
// on: a flat, storage-level enumeration of persisted verb records. It
// intentionally exposes no Index accessor (Neighbors, ShortestPath,
// Neighborhood) — the historical deadlock this type exists to prevent was
// a rebuild path that called back into a higher-level graph accessor,
// which itself blocked waiting for the rebuild to finish. Keeping this
// interface's method set disjoint from Index's read API makes that
// re-entry impossible to introduce by accident at a call site.
type RawVerbEnumerator interface {
	// ListVerbs returns every persisted verb record under the given key
	// prefix (e.g. "verbs/"), decoded from raw storage bytes, with no
	// pass through any in-memory graph structure.
	ListVerbs(ctx context.Context, prefix string) ([]*model.Verb, error)
}

// JSONVerbDecoder adapts a storage adapter's raw listPrefix+get pair into
// a RawVerbEnumerator by JSON-decoding each value Get returns. Get must
// return plain JSON; pkg/store supplies a Get that strips its record frame
// first.
type JSONVerbDecoder struct {
	Get        func(ctx context.Context, key string) ([]byte, error)
	ListPrefix func(ctx context.Context, prefix, cursor string) ([]string, string, error)
}

// ListVerbs implements RawVerbEnumerator by paging through ListPrefix and
// JSON-decoding each value via Get. It never touches a graphindex.Index.
func (d JSONVerbDecoder) ListVerbs(ctx context.Context, prefix string) ([]*model.Verb, error) {
	var out []*model.Verb
	cursor := ""
	for {
		keys, next, err := d.ListPrefix(ctx, prefix, cursor)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			raw, err := d.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			var v model.Verb
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, model.NewError(model.KindIndexCorrupt, "graphindex.Rebuild", err)
			}
			out = append(out, &v)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// Rebuild constructs a fresh Index from enumerator's raw verb records and
// returns it; it never reads or writes any existing Index's adjacency
// maps. Swapping the returned Index in for a stale one is left to the
// caller; pkg/store assigns it once during Open, before the store is
// shared, and takes no lock for it.
func Rebuild(ctx context.Context, enumerator RawVerbEnumerator, prefix string) (*Index, error) {
	verbs, err := enumerator.ListVerbs(ctx, prefix)
	if err != nil {
		return nil, err
	}
	fresh := New()
	for _, v := range verbs {
		fresh.AddEdge(v)
	}
	return fresh, nil
}
