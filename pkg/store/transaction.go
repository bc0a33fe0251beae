package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/txn"
)

// StoreTx buffers a sequence of mutations so Transaction commits (or
// rolls back) all of them as one unit. Each call enqueues a
// txn.Operation against the underlying transaction; none of the
// indexes or storage is touched until the enclosing Transaction call
// commits them in order, so a callback that returns an error leaves the
// store exactly as it found it, per spec.md §8 scenario S4.
type StoreTx struct {
	store *Store
	tx    *txn.Transaction
}

// Add buffers a noun insert.
func (t *StoreTx) Add(n *model.Noun) error {
	if len(n.Vector) != t.store.dimensions {
		return model.NewError(model.KindInvalidArgument, "store.StoreTx.Add", dimensionMismatchErr(t.store.dimensions, len(n.Vector)))
	}
	if n.Type == "" {
		return model.NewError(model.KindInvalidArgument, "store.StoreTx.Add", errNounTypeRequired)
	}
	now := time.Now()
	noun := n.Clone()
	noun.Metadata = model.FlattenMetadata(noun.Metadata)
	noun.CreatedAt = now
	noun.UpdatedAt = now
	t.tx.AddOperation(t.store.addNounOperation(noun))
	return nil
}

// Relate buffers a verb insert between two nouns. Both endpoints must
// already exist in the store or be added earlier in the same
// transaction's buffer; existence is only enforced at Commit time, since
// an earlier buffered Add hasn't taken effect yet when Relate is called.
func (t *StoreTx) Relate(source, target model.NounID, verbType string, weight float64, metadata map[string]any) (model.VerbID, error) {
	if verbType == "" {
		return "", model.NewError(model.KindInvalidArgument, "store.StoreTx.Relate", errVerbTypeRequired)
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
	t.tx.AddOperation(t.store.addVerbOperation(v))
	return v.ID, nil
}

// Delete buffers a noun tombstone.
func (t *StoreTx) Delete(id model.NounID) error {
	t.store.mu.RLock()
	n, ok := t.store.nouns[id]
	t.store.mu.RUnlock()
	if !ok {
		return model.NewError(model.KindNotFound, "store.StoreTx.Delete", nil)
	}
	t.tx.AddOperation(t.store.deleteNounOperation(n))
	return nil
}

// Unrelate buffers a verb removal.
func (t *StoreTx) Unrelate(id model.VerbID) error {
	t.store.mu.RLock()
	v, ok := t.store.verbs[id]
	t.store.mu.RUnlock()
	if !ok {
		return model.NewError(model.KindNotFound, "store.StoreTx.Unrelate", nil)
	}
	t.tx.AddOperation(t.store.removeVerbOperation(v))
	return nil
}

// Transaction runs fn against a fresh StoreTx, then commits every
// buffered operation in the order fn issued them. If fn returns an
// error, no operation is queued for commit and the store is untouched.
// If a buffered operation fails partway through commit, every prior
// operation in this call is compensated LIFO, per txn.Transaction.Commit.
func (s *Store) Transaction(ctx context.Context, fn func(*StoreTx) error) error {
	tx := s.txMgr.Begin(s.cfg.Transaction.Timeout)
	stx := &StoreTx{store: s, tx: tx}
	if err := fn(stx); err != nil {
		return err
	}
	err := tx.Commit(ctx)
	s.invalidateCache()
	return err
}
