package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/recordframe"
	"github.com/triadb/triadb/pkg/txn"
)

const recordSchemaVersion = 1

func encodeNoun(n *model.Noun) ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, model.NewError(model.KindInvalidArgument, "store.encodeNoun", err)
	}
	return recordframe.Encode(recordSchemaVersion, payload), nil
}

func decodeNoun(frame []byte) (*model.Noun, error) {
	_, payload, err := recordframe.Decode(frame, recordSchemaVersion)
	if err != nil {
		return nil, err
	}
	var n model.Noun
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, model.NewError(model.KindIndexCorrupt, "store.decodeNoun", err)
	}
	return &n, nil
}

func encodeVerb(v *model.Verb) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, model.NewError(model.KindInvalidArgument, "store.encodeVerb", err)
	}
	return recordframe.Encode(recordSchemaVersion, payload), nil
}

func decodeVerb(frame []byte) (*model.Verb, error) {
	_, payload, err := recordframe.Decode(frame, recordSchemaVersion)
	if err != nil {
		return nil, err
	}
	var v model.Verb
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, model.NewError(model.KindIndexCorrupt, "store.decodeVerb", err)
	}
	return &v, nil
}

// Add indexes n across all three axes inside a single-operation
// transaction so a failure at any index leaves the noun invisible to
// every axis, per spec.md §8's three-way-consistency invariant.
func (s *Store) Add(ctx context.Context, n *model.Noun) error {
	if len(n.Vector) != s.dimensions {
		return model.NewError(model.KindInvalidArgument, "store.Add", dimensionMismatchErr(s.dimensions, len(n.Vector)))
	}
	if n.Type == "" {
		return model.NewError(model.KindInvalidArgument, "store.Add", errNounTypeRequired)
	}
	s.mu.RLock()
	_, exists := s.nouns[n.ID]
	s.mu.RUnlock()
	if exists {
		return model.NewError(model.KindAlreadyExists, "store.Add", nil)
	}

	now := time.Now()
	noun := n.Clone()
	noun.Metadata = model.FlattenMetadata(noun.Metadata)
	noun.CreatedAt = now
	noun.UpdatedAt = now

	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	tx.AddOperation(s.addNounOperation(noun))
	err := tx.Commit(ctx)
	s.invalidateCache()
	return err
}

func (s *Store) addNounOperation(n *model.Noun) txn.Operation {
	return txn.Operation{
		Name: "add-noun:" + string(n.ID),
		Execute: func(ctx context.Context) (txn.Compensate, error) {
			frame, err := encodeNoun(n)
			if err != nil {
				return nil, err
			}
			if err := s.adapter.Put(ctx, nounKey(n), frame); err != nil {
				return nil, err
			}
			if err := s.vector.Add(n); err != nil {
				return nil, err
			}
			s.meta.AddNoun(n)
			s.types.RegisterNounType(n.Type)

			s.mu.Lock()
			s.nouns[n.ID] = n
			s.mu.Unlock()

			return func(ctx context.Context) error {
				s.mu.Lock()
				delete(s.nouns, n.ID)
				s.mu.Unlock()
				s.meta.RemoveNoun(n)
				s.vector.Remove(n.Type, n.ID)
				return s.adapter.Delete(ctx, nounKey(n))
			}, nil
		},
	}
}

// Update patches n's metadata fields in place. A "vector" key in patch is
// rejected: spec.md §3 models a vector replacement as delete-then-insert
// inside one transaction (see ReplaceVector), never an in-place mutation.
func (s *Store) Update(ctx context.Context, id model.NounID, patch map[string]any) error {
	if _, hasVector := patch["vector"]; hasVector {
		return model.NewError(model.KindInvalidArgument, "store.Update", errVectorImmutable)
	}
	s.mu.RLock()
	existing, ok := s.nouns[id]
	s.mu.RUnlock()
	if !ok {
		return model.NewError(model.KindNotFound, "store.Update", nil)
	}

	updated := existing.Clone()
	if updated.Metadata == nil {
		updated.Metadata = make(map[string]any)
	}
	for k, v := range model.FlattenMetadata(patch) {
		updated.Metadata[k] = v
	}
	updated.UpdatedAt = time.Now()

	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	tx.AddOperation(txn.Operation{
		Name: "update-noun:" + string(id),
		Execute: func(ctx context.Context) (txn.Compensate, error) {
			frame, err := encodeNoun(updated)
			if err != nil {
				return nil, err
			}
			if err := s.adapter.Put(ctx, nounKey(updated), frame); err != nil {
				return nil, err
			}
			s.meta.RemoveNoun(existing)
			s.meta.AddNoun(updated)
			s.mu.Lock()
			s.nouns[id] = updated
			s.mu.Unlock()

			return func(ctx context.Context) error {
				s.meta.RemoveNoun(updated)
				s.meta.AddNoun(existing)
				s.mu.Lock()
				s.nouns[id] = existing
				s.mu.Unlock()
				oldFrame, err := encodeNoun(existing)
				if err != nil {
					return err
				}
				return s.adapter.Put(ctx, nounKey(existing), oldFrame)
			}, nil
		},
	})
	err := tx.Commit(ctx)
	s.invalidateCache()
	return err
}

// ReplaceVector models spec.md §3's "update with a new vector is
// delete-then-insert inside a single transaction": it tombstones the
// existing HNSW node and re-inserts with the new vector atomically.
func (s *Store) ReplaceVector(ctx context.Context, id model.NounID, vector []float32) error {
	if len(vector) != s.dimensions {
		return model.NewError(model.KindInvalidArgument, "store.ReplaceVector", dimensionMismatchErr(s.dimensions, len(vector)))
	}
	s.mu.RLock()
	existing, ok := s.nouns[id]
	s.mu.RUnlock()
	if !ok {
		return model.NewError(model.KindNotFound, "store.ReplaceVector", nil)
	}

	replacement := existing.Clone()
	replacement.Vector = vector
	replacement.UpdatedAt = time.Now()

	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	tx.AddOperation(txn.Operation{
		Name: "replace-vector:" + string(id),
		Execute: func(ctx context.Context) (txn.Compensate, error) {
			s.vector.Remove(existing.Type, existing.ID)
			if err := s.vector.Add(replacement); err != nil {
				return nil, err
			}
			frame, err := encodeNoun(replacement)
			if err != nil {
				return nil, err
			}
			if err := s.adapter.Put(ctx, nounKey(replacement), frame); err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.nouns[id] = replacement
			s.mu.Unlock()

			return func(ctx context.Context) error {
				if err := s.vector.Add(existing); err != nil {
					return err
				}
				s.mu.Lock()
				s.nouns[id] = existing
				s.mu.Unlock()
				frame, err := encodeNoun(existing)
				if err != nil {
					return err
				}
				return s.adapter.Put(ctx, nounKey(existing), frame)
			}, nil
		},
	})
	err := tx.Commit(ctx)
	s.invalidateCache()
	return err
}

// Delete logically tombstones id across all three axes: HNSW soft-delete,
// metadata bitmap removal, and graph dangling-verb flagging, per spec.md
// §3's "delete(a) → logical tombstone + background compaction" lifecycle.
func (s *Store) Delete(ctx context.Context, id model.NounID) error {
	s.mu.RLock()
	n, ok := s.nouns[id]
	s.mu.RUnlock()
	if !ok {
		return model.NewError(model.KindNotFound, "store.Delete", nil)
	}

	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	tx.AddOperation(s.deleteNounOperation(n))
	err := tx.Commit(ctx)
	s.invalidateCache()
	return err
}

func (s *Store) deleteNounOperation(n *model.Noun) txn.Operation {
	return txn.Operation{
		Name: "delete-noun:" + string(n.ID),
		Execute: func(ctx context.Context) (txn.Compensate, error) {
			s.vector.Remove(n.Type, n.ID)
			s.meta.RemoveNoun(n)
			s.graph.MarkDeleted(n.ID)
			if err := s.adapter.Delete(ctx, nounKey(n)); err != nil {
				return nil, err
			}
			s.mu.Lock()
			delete(s.nouns, n.ID)
			s.mu.Unlock()

			return func(ctx context.Context) error {
				if err := s.vector.Add(n); err != nil {
					return err
				}
				s.meta.AddNoun(n)
				s.mu.Lock()
				s.nouns[n.ID] = n
				s.mu.Unlock()
				frame, err := encodeNoun(n)
				if err != nil {
					return err
				}
				return s.adapter.Put(ctx, nounKey(n), frame)
			}, nil
		},
	}
}

// Get returns id's noun. A missing id is model.ErrNotFound, a normal
// result path rather than a surprising failure, per spec.md §7.
func (s *Store) Get(_ context.Context, id model.NounID) (*model.Noun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nouns[id]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "store.Get", nil)
	}
	return n.Clone(), nil
}

func dimensionMismatchErr(want, got int) error {
	return fmt.Errorf("expected vector of dimension %d, got %d", want, got)
}

var (
	errNounTypeRequired = errors.New("noun type must not be empty")
	errVectorImmutable  = errors.New("vector cannot be patched via Update; call ReplaceVector")
)
