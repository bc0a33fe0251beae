package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/triadb/triadb/pkg/graphindex"
	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/txn"
)

// Relate creates a typed, weighted, directed verb between two existing
// nouns. Parallel verbs with identical (source, target, type, metadata)
// collapse to the existing edge, per graphindex.AddEdge's idempotency
// rule, so Relate is safe to retry.
func (s *Store) Relate(ctx context.Context, source, target model.NounID, verbType string, weight float64, metadata map[string]any) (*model.Verb, error) {
	if verbType == "" {
		return nil, model.NewError(model.KindInvalidArgument, "store.Relate", errVerbTypeRequired)
	}
	s.mu.RLock()
	_, srcOK := s.nouns[source]
	_, dstOK := s.nouns[target]
	s.mu.RUnlock()
	if !srcOK || !dstOK {
		return nil, model.NewError(model.KindNotFound, "store.Relate", errEndpointMissing)
	}

	v := &model.Verb{
		ID:        model.VerbID(uuid.NewString()),
		Source:    source,
		Target:    target,
		Type:      verbType,
		Weight:    weight,
		Metadata:  model.FlattenMetadata(metadata),
		CreatedAt: time.Now(),
	}
	v.UpdatedAt = v.CreatedAt

	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	tx.AddOperation(s.addVerbOperation(v))
	err := tx.Commit(ctx)
	s.invalidateCache()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) addVerbOperation(v *model.Verb) txn.Operation {
	return txn.Operation{
		Name: "add-verb:" + string(v.ID),
		Execute: func(ctx context.Context) (txn.Compensate, error) {
			s.mu.RLock()
			_, srcOK := s.nouns[v.Source]
			_, dstOK := s.nouns[v.Target]
			s.mu.RUnlock()
			if !srcOK || !dstOK {
				return nil, model.NewError(model.KindNotFound, "store.addVerb", errEndpointMissing)
			}
			frame, err := encodeVerb(v)
			if err != nil {
				return nil, err
			}
			if err := s.adapter.Put(ctx, verbKey(v.ID), frame); err != nil {
				return nil, err
			}
			s.graph.AddEdge(v)
			s.types.RegisterVerbType(v.Type)

			s.mu.Lock()
			s.verbs[v.ID] = v
			s.mu.Unlock()

			return func(ctx context.Context) error {
				s.mu.Lock()
				delete(s.verbs, v.ID)
				s.mu.Unlock()
				s.graph.RemoveEdge(v.ID)
				return s.adapter.Delete(ctx, verbKey(v.ID))
			}, nil
		},
	}
}

// Unrelate removes the verb identified by id from the graph and storage.
func (s *Store) Unrelate(ctx context.Context, id model.VerbID) error {
	s.mu.RLock()
	v, ok := s.verbs[id]
	s.mu.RUnlock()
	if !ok {
		return model.NewError(model.KindNotFound, "store.Unrelate", nil)
	}

	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	tx.AddOperation(s.removeVerbOperation(v))
	err := tx.Commit(ctx)
	s.invalidateCache()
	return err
}

func (s *Store) removeVerbOperation(v *model.Verb) txn.Operation {
	return txn.Operation{
		Name: "remove-verb:" + string(v.ID),
		Execute: func(ctx context.Context) (txn.Compensate, error) {
			s.graph.RemoveEdge(v.ID)
			if err := s.adapter.Delete(ctx, verbKey(v.ID)); err != nil {
				return nil, err
			}
			s.mu.Lock()
			delete(s.verbs, v.ID)
			s.mu.Unlock()

			return func(ctx context.Context) error {
				s.graph.AddEdge(v)
				s.mu.Lock()
				s.verbs[v.ID] = v
				s.mu.Unlock()
				frame, err := encodeVerb(v)
				if err != nil {
					return err
				}
				return s.adapter.Put(ctx, verbKey(v.ID), frame)
			}, nil
		},
	}
}

// RelationsQuery selects the neighborhood exploration GetRelations
// performs: just the start noun when Depth <= 0, a one-hop typed/directed
// lookup when Depth == 1, otherwise a bounded-radius reachability scan.
type RelationsQuery struct {
	From      model.NounID
	Direction graphindex.Direction
	Types     []string
	Depth     int
}

// GetRelations breadth-first-expands id's neighbors up to Depth hops,
// deduplicating a noun to the first (shallowest) hop it is reached at. A
// Depth of 0 returns just the start set, q.From itself, with no edge
// metadata attached.
func (s *Store) GetRelations(ctx context.Context, q RelationsQuery) ([]graphindex.Neighbor, error) {
	s.mu.RLock()
	_, ok := s.nouns[q.From]
	s.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.KindNotFound, "store.GetRelations", nil)
	}

	if q.Depth <= 0 {
		return []graphindex.Neighbor{{NounID: q.From}}, nil
	}

	direction := q.Direction
	if direction == "" {
		direction = graphindex.DirectionOut
	}
	depth := q.Depth

	visited := map[model.NounID]bool{q.From: true}
	frontier := []model.NounID{q.From}
	var result []graphindex.Neighbor
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []model.NounID
		for _, cur := range frontier {
			for _, nb := range s.graph.Neighbors(cur, direction, q.Types) {
				if visited[nb.NounID] {
					continue
				}
				visited[nb.NounID] = true
				result = append(result, nb)
				next = append(next, nb.NounID)
			}
		}
		frontier = next
	}
	return result, nil
}

var (
	errVerbTypeRequired = errors.New("verb type must not be empty")
	errEndpointMissing  = errors.New("relate endpoint noun does not exist")
)
