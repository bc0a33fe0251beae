package hnsw

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/storageadapter"
	"github.com/triadb/triadb/pkg/vector"
)

func noun(id model.NounID, nounType string, vec []float32) *model.Noun {
	return &model.Noun{ID: id, Type: nounType, Vector: vec}
}

func TestAddAndSearchFindsNearestNeighbor(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	require.NoError(t, idx.Add(noun("b", "Concept", []float32{0, 1})))
	require.NoError(t, idx.Add(noun("c", "Concept", []float32{-1, 0})))

	results, err := idx.Search(context.Background(), "Concept", []float32{0.9, 0.1}, 1, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.NounID("a"), results[0].ID)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	idx := New(3, DefaultConfig())
	err := idx.Add(noun("a", "Concept", []float32{1, 0}))
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidArgument, kind)
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	idx := New(3, DefaultConfig())
	_, err := idx.Search(context.Background(), "Concept", []float32{1, 0}, 1, -1)
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidArgument, kind)
}

func TestSearchUnknownTypeReturnsEmpty(t *testing.T) {
	idx := New(2, DefaultConfig())
	results, err := idx.Search(context.Background(), "Ghost", []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTypePartitionsAreIndependent(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	require.NoError(t, idx.Add(noun("b", "Person", []float32{1, 0})))

	results, err := idx.Search(context.Background(), "Concept", []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.NounID("a"), results[0].ID)
}

func TestSearchHonorsMinScore(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	require.NoError(t, idx.Add(noun("b", "Concept", []float32{-1, 0})))

	results, err := idx.Search(context.Background(), "Concept", []float32{1, 0}, 5, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.NounID("a"), results[0].ID)
}

func TestSearchRespectsContextCancellation(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, "Concept", []float32{1, 0}, 1, -1)
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindCancelled, kind)
}

func TestRemoveTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	require.NoError(t, idx.Add(noun("b", "Concept", []float32{0.9, 0.1})))

	idx.Remove("Concept", "a")

	assert.InDelta(t, 0.5, idx.TombstoneRatio("Concept"), 1e-9)

	results, err := idx.Search(context.Background(), "Concept", []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, model.NounID("a"), r.ID)
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	idx.Remove("Concept", "ghost")
	assert.Equal(t, float64(0), idx.TombstoneRatio("Concept"))
}

func TestRemoveFromUnknownTypeIsNoop(t *testing.T) {
	idx := New(2, DefaultConfig())
	idx.Remove("Ghost", "a")
	assert.Equal(t, float64(0), idx.TombstoneRatio("Ghost"))
}

func TestTombstoneRatioEmptyPartitionIsZero(t *testing.T) {
	idx := New(2, DefaultConfig())
	assert.Equal(t, float64(0), idx.TombstoneRatio("Concept"))
}

func TestCompactDropsTombstonesAndKeepsLiveResults(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	require.NoError(t, idx.Add(noun("b", "Concept", []float32{0, 1})))
	require.NoError(t, idx.Add(noun("c", "Concept", []float32{-1, 0})))

	idx.Remove("Concept", "b")
	require.InDelta(t, 1.0/3.0, idx.TombstoneRatio("Concept"), 1e-9)

	idx.Compact("Concept")

	assert.Equal(t, float64(0), idx.TombstoneRatio("Concept"))

	results, err := idx.Search(context.Background(), "Concept", []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	ids := make(map[model.NounID]bool)
	for _, r := range results {
		ids[r.ID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["c"])
	assert.False(t, ids["b"])
}

func TestCompactWithNoLiveNodesDropsPartition(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	idx.Remove("Concept", "a")

	idx.Compact("Concept")

	results, err := idx.Search(context.Background(), "Concept", []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, float64(0), idx.TombstoneRatio("Concept"))
}

func TestCompactUnknownTypeIsNoop(t *testing.T) {
	idx := New(2, DefaultConfig())
	idx.Compact("Ghost")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(2, DefaultConfig())
	require.NoError(t, idx.Add(noun("a", "Concept", []float32{1, 0})))
	require.NoError(t, idx.Add(noun("b", "Concept", []float32{0, 1})))
	require.NoError(t, idx.Add(noun("c", "Concept", []float32{-1, 0})))
	idx.Remove("Concept", "c")

	adapter := storageadapter.NewMemoryAdapter()
	ctx := context.Background()
	require.NoError(t, idx.Save(ctx, adapter, "Concept"))

	reloaded := New(2, DefaultConfig())
	require.NoError(t, reloaded.Load(ctx, adapter, "Concept"))

	assert.Equal(t, idx.TombstoneRatio("Concept"), reloaded.TombstoneRatio("Concept"))

	results, err := reloaded.Search(ctx, "Concept", []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	var got []model.NounID
	for _, r := range results {
		got = append(got, r.ID)
	}
	assert.Contains(t, got, model.NounID("a"))
	assert.NotContains(t, got, model.NounID("c"))
}

func TestLoadUnknownKeyReturnsError(t *testing.T) {
	idx := New(2, DefaultConfig())
	adapter := storageadapter.NewMemoryAdapter()
	err := idx.Load(context.Background(), adapter, "Concept")
	require.Error(t, err)
}

func TestSaveUnknownTypeIsNoop(t *testing.T) {
	idx := New(2, DefaultConfig())
	adapter := storageadapter.NewMemoryAdapter()
	require.NoError(t, idx.Save(context.Background(), adapter, "Ghost"))

	exists, err := adapter.Exists(context.Background(), "hnsw/Ghost/partition")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestSelectNeighborsPrefersDiversityOverRawDistance builds a query whose
// two closest candidates sit right next to each other (so the second is
// closer to the first than to the query) plus a third candidate that is
// farther from the query but spread in a different direction. The
// diversity heuristic must reject the clustered second candidate in favor
// of the spread one when only one slot remains.
func TestSelectNeighborsPrefersDiversityOverRawDistance(t *testing.T) {
	p := &partition{nounType: "Concept", dimensions: 2, nodes: make(map[model.NounID]*node)}
	metric := vector.MetricEuclidean

	query := []float32{0, 0}
	p.nodes["near1"] = &node{id: "near1", vector: []float32{1, 0}}
	p.nodes["near2"] = &node{id: "near2", vector: []float32{1.05, 0}}
	p.nodes["spread"] = &node{id: "spread", vector: []float32{0, 2}}

	selected := p.selectNeighbors(metric, query, []model.NounID{"near1", "near2", "spread"}, 2)

	require.Len(t, selected, 2)
	assert.Contains(t, selected, model.NounID("near1"))
	assert.Contains(t, selected, model.NounID("spread"))
	assert.NotContains(t, selected, model.NounID("near2"))
}

func TestSelectNeighborsBackfillsWhenHeuristicAdmitsTooFew(t *testing.T) {
	p := &partition{nounType: "Concept", dimensions: 2, nodes: make(map[model.NounID]*node)}
	metric := vector.MetricEuclidean

	// All four candidates sit on the same ray from the query, tightly
	// clustered, so the heuristic alone would admit only the closest one
	// ("a") before rejecting the rest as too close to it. Backfill must
	// still bring selected up to m.
	query := []float32{0, 0}
	p.nodes["a"] = &node{id: "a", vector: []float32{1, 0}}
	p.nodes["b"] = &node{id: "b", vector: []float32{1.01, 0}}
	p.nodes["c"] = &node{id: "c", vector: []float32{1.02, 0}}
	p.nodes["d"] = &node{id: "d", vector: []float32{1.03, 0}}

	selected := p.selectNeighbors(metric, query, []model.NounID{"a", "b", "c", "d"}, 3)

	assert.Len(t, selected, 3)
	assert.Contains(t, selected, model.NounID("a"))
}

func TestSelectNeighborsReturnsAllWhenUnderLimit(t *testing.T) {
	p := &partition{nounType: "Concept", dimensions: 2, nodes: make(map[model.NounID]*node)}
	metric := vector.MetricEuclidean

	p.nodes["a"] = &node{id: "a", vector: []float32{1, 0}}
	p.nodes["b"] = &node{id: "b", vector: []float32{0, 1}}

	selected := p.selectNeighbors(metric, []float32{0, 0}, []model.NounID{"a", "b"}, 5)
	assert.ElementsMatch(t, []model.NounID{"a", "b"}, selected)
}

func TestManyInsertsProduceConsistentTopKResults(t *testing.T) {
	idx := New(4, DefaultConfig())
	for i := 0; i < 200; i++ {
		v := []float32{float32(i), float32(i % 7), float32(i % 3), 1}
		require.NoError(t, idx.Add(noun(model.NounID(fmt.Sprintf("n%d", i)), "Concept", v)))
	}

	results, err := idx.Search(context.Background(), "Concept", []float32{0, 0, 0, 1}, 5, -1)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, model.NounID("n0"), results[0].ID)
}
