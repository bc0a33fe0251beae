package store

import (
	"context"
	"fmt"

	"github.com/triadb/triadb/pkg/planner"
)

type cachedSearch struct {
	Results []planner.Result
	Mode    planner.Mode
}

// Search fuses the vector, graph, and metadata axes of q and returns
// ranked results. A vector query with no explicit TypeRestriction is
// widened to every noun type Add has ever registered, since HNSW
// partitions by type and otherwise nothing would match.
//
// Results are served from the store's result cache when present and
// fresh; any Add/Update/Delete/Relate/Unrelate/Transaction call drops the
// whole cache, since a fused three-axis result has no narrower
// invalidation key.
func (s *Store) Search(ctx context.Context, q planner.Query) ([]planner.Result, planner.Mode, error) {
	if len(q.Vector) > 0 && len(q.TypeRestriction) == 0 {
		q.TypeRestriction = s.types.KnownNounTypes()
	}

	if s.resultCache == nil {
		return s.planner.Search(ctx, q)
	}

	key := s.resultCache.Key(fmt.Sprintf("%#v", q))
	if cached, ok := s.resultCache.Get(key); ok {
		hit := cached.(cachedSearch)
		return hit.Results, hit.Mode, nil
	}

	results, mode, err := s.planner.Search(ctx, q)
	if err != nil {
		return nil, "", err
	}
	s.resultCache.Put(key, cachedSearch{Results: results, Mode: mode})
	return results, mode, nil
}
