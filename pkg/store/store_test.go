package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadb/triadb/pkg/config"
	"github.com/triadb/triadb/pkg/graphindex"
	"github.com/triadb/triadb/pkg/metadataindex"
	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/planner"
	"github.com/triadb/triadb/pkg/storageadapter"
	"github.com/triadb/triadb/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dimensions = 3
	s, err := store.Open(context.Background(), cfg, storageadapter.NewMemoryAdapter())
	require.NoError(t, err)
	return s
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &model.Noun{ID: "n1", Type: "Concept", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"status": "active"}}
	require.NoError(t, s.Add(ctx, n))

	got, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, model.NounID("n1"), got.ID)
	assert.Equal(t, "active", got.Metadata["status"])

	_, err = s.Get(ctx, "missing")
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindNotFound, kind)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)
	err := s.Add(context.Background(), &model.Noun{ID: "n1", Type: "Concept", Vector: []float32{1, 0}})
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidArgument, kind)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := &model.Noun{ID: "n1", Type: "Concept", Vector: []float32{1, 0, 0}}
	require.NoError(t, s.Add(ctx, n))
	err := s.Add(ctx, n)
	require.Error(t, err)
	kind, _ := model.ErrorKind(err)
	assert.Equal(t, model.KindAlreadyExists, kind)
}

func TestDeleteRemovesFromEveryAxis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	n := &model.Noun{ID: "n1", Type: "Concept", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"status": "active"}}
	require.NoError(t, s.Add(ctx, n))

	require.NoError(t, s.Delete(ctx, "n1"))

	_, err := s.Get(ctx, "n1")
	require.Error(t, err)

	results, _, err := s.Search(ctx, planner.Query{
		Filter: metadataindex.Leaf{Predicate: metadataindex.Predicate{Field: "status", Op: metadataindex.OpEq, Value: "active"}},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRelateAndGetRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "A", Type: "Concept", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "B", Type: "Concept", Vector: []float32{0, 1, 0}}))

	v, err := s.Relate(ctx, "A", "B", "RelatedTo", 1, map[string]any{"source": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, v.ID)

	rels, err := s.GetRelations(ctx, store.RelationsQuery{From: "A", Direction: graphindex.DirectionOut, Depth: 1})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.NounID("B"), rels[0].NounID)

	require.NoError(t, s.Unrelate(ctx, v.ID))
	rels, err = s.GetRelations(ctx, store.RelationsQuery{From: "A", Depth: 1})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestGetRelationsZeroDepthReturnsStartSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "A", Type: "Concept", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "B", Type: "Concept", Vector: []float32{0, 1, 0}}))
	_, err := s.Relate(ctx, "A", "B", "RelatedTo", 1, nil)
	require.NoError(t, err)

	rels, err := s.GetRelations(ctx, store.RelationsQuery{From: "A"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.NounID("A"), rels[0].NounID)
}

func TestRelateRejectsMissingEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "A", Type: "Concept", Vector: []float32{1, 0, 0}}))
	_, err := s.Relate(ctx, "A", "ghost", "RelatedTo", 1, nil)
	require.Error(t, err)
	kind, _ := model.ErrorKind(err)
	assert.Equal(t, model.KindNotFound, kind)
}

func TestTransactionRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "existing", Type: "Concept", Vector: []float32{1, 0, 0}}))

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx *store.StoreTx) error {
		if addErr := tx.Add(&model.Noun{ID: "newNoun", Type: "Concept", Vector: []float32{0, 1, 0}}); addErr != nil {
			return addErr
		}
		if _, relErr := tx.Relate("newNoun", "existing", "RelatedTo", 1, nil); relErr != nil {
			return relErr
		}
		return boom
	})
	require.Error(t, err)

	_, getErr := s.Get(ctx, "newNoun")
	require.Error(t, getErr)
	kind, _ := model.ErrorKind(getErr)
	assert.Equal(t, model.KindNotFound, kind)
}

func TestTransactionCommitsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "existing", Type: "Concept", Vector: []float32{1, 0, 0}}))

	err := s.Transaction(ctx, func(tx *store.StoreTx) error {
		if err := tx.Add(&model.Noun{ID: "newNoun", Type: "Concept", Vector: []float32{0, 1, 0}}); err != nil {
			return err
		}
		_, err := tx.Relate("newNoun", "existing", "RelatedTo", 1, nil)
		return err
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "newNoun")
	require.NoError(t, err)
	assert.Equal(t, model.NounID("newNoun"), got.ID)

	rels, err := s.GetRelations(ctx, store.RelationsQuery{From: "newNoun", Depth: 1})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.NounID("existing"), rels[0].NounID)
}

func TestSearchAgainstEmptyStoreReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results, mode, err := s.Search(ctx, planner.Query{Vector: []float32{1, 0, 0}, K: 5})
	require.NoError(t, err)
	assert.Equal(t, planner.ModeVectorFirst, mode)
	assert.Empty(t, results)
}

func TestSearchDefaultsTypeRestrictionFromRegisteredTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "1", Type: "Concept", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "2", Type: "Concept", Vector: []float32{0.9, 0.1, 0}}))

	results, mode, err := s.Search(ctx, planner.Query{Vector: []float32{1, 0, 0}, K: 2})
	require.NoError(t, err)
	assert.Equal(t, planner.ModeVectorFirst, mode)
	require.Len(t, results, 2)
	assert.Equal(t, model.NounID("1"), results[0].ID)
}

func TestSearchCacheInvalidatedByMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, &model.Noun{ID: "1", Type: "Concept", Vector: []float32{1, 0, 0}}))

	q := planner.Query{Vector: []float32{1, 0, 0}, K: 5}
	results, _, err := s.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, s.Add(ctx, &model.Noun{ID: "2", Type: "Concept", Vector: []float32{0.9, 0.1, 0}}))

	results, _, err = s.Search(ctx, q)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestReopenRehydratesFromStorage(t *testing.T) {
	adapter := storageadapter.NewMemoryAdapter()
	cfg := config.Default()
	cfg.Storage.Dimensions = 3

	s1, err := store.Open(context.Background(), cfg, adapter)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s1.Add(ctx, &model.Noun{ID: "A", Type: "Concept", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"status": "active"}}))
	require.NoError(t, s1.Add(ctx, &model.Noun{ID: "B", Type: "Concept", Vector: []float32{0, 1, 0}}))
	_, err = s1.Relate(ctx, "A", "B", "RelatedTo", 1, nil)
	require.NoError(t, err)

	s2, err := store.Open(context.Background(), cfg, adapter)
	require.NoError(t, err)

	got, err := s2.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "active", got.Metadata["status"])

	rels, err := s2.GetRelations(ctx, store.RelationsQuery{From: "A", Depth: 1})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.NounID("B"), rels[0].NounID)

	results, _, err := s2.Search(ctx, planner.Query{Vector: []float32{1, 0, 0}, K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.NounID("A"), results[0].ID)
}
