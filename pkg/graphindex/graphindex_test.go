package graphindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadb/triadb/pkg/model"
)

func verb(id model.VerbID, src, dst model.NounID, vt string, weight float64) *model.Verb {
	return &model.Verb{ID: id, Source: src, Target: dst, Type: vt, Weight: weight}
}

func TestAddEdgeIdempotent(t *testing.T) {
	idx := New()
	v := verb("v1", "a", "b", "RelatedTo", 1)
	idx.AddEdge(v)
	idx.AddEdge(v)

	out := idx.Neighbors("a", DirectionOut, nil)
	assert.Len(t, out, 1)
}

func TestAddEdgeDistinctMetadataNotCollapsed(t *testing.T) {
	idx := New()
	v1 := verb("v1", "a", "b", "RelatedTo", 1)
	v1.Metadata = map[string]any{"note": "x"}
	v2 := verb("v2", "a", "b", "RelatedTo", 1)
	v2.Metadata = map[string]any{"note": "y"}
	idx.AddEdge(v1)
	idx.AddEdge(v2)

	out := idx.Neighbors("a", DirectionOut, nil)
	assert.Len(t, out, 2)
}

func TestNeighborsDirectionAndType(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "a", "b", "RelatedTo", 1))
	idx.AddEdge(verb("v2", "c", "a", "Mentions", 1))

	out := idx.Neighbors("a", DirectionOut, nil)
	require.Len(t, out, 1)
	assert.Equal(t, model.NounID("b"), out[0].NounID)

	in := idx.Neighbors("a", DirectionIn, nil)
	require.Len(t, in, 1)
	assert.Equal(t, model.NounID("c"), in[0].NounID)

	both := idx.Neighbors("a", DirectionBoth, nil)
	assert.Len(t, both, 2)

	filtered := idx.Neighbors("a", DirectionBoth, []string{"Mentions"})
	require.Len(t, filtered, 1)
	assert.Equal(t, "Mentions", filtered[0].VerbType)
}

func TestRemoveEdge(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "a", "b", "RelatedTo", 1))
	idx.RemoveEdge("v1")
	assert.Empty(t, idx.Neighbors("a", DirectionOut, nil))
	assert.Empty(t, idx.Neighbors("b", DirectionIn, nil))
}

func TestMarkDeleted(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "a", "b", "RelatedTo", 1))
	idx.MarkDeleted("b")
	out := idx.Neighbors("a", DirectionOut, nil)
	require.Len(t, out, 1)
	assert.True(t, out[0].Deleted)
}

func TestShortestPathBFS(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "A", "B", "RelatedTo", 1))
	idx.AddEdge(verb("v2", "B", "C", "RelatedTo", 1))

	path, err := idx.ShortestPath(context.Background(), "A", "C", DefaultPathOptions())
	require.NoError(t, err)
	assert.Equal(t, []model.NounID{"A", "B", "C"}, path.Nouns)
	assert.Equal(t, 2, path.Length)
}

func TestShortestPathDijkstraForWeightedEdges(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "A", "B", "RelatedTo", 1))
	idx.AddEdge(verb("v2", "B", "D", "RelatedTo", 1))
	idx.AddEdge(verb("v3", "A", "C", "RelatedTo", 10)) // cheap: weight high -> cost low
	idx.AddEdge(verb("v4", "C", "D", "RelatedTo", 10))

	path, err := idx.ShortestPath(context.Background(), "A", "D", DefaultPathOptions())
	require.NoError(t, err)
	assert.Equal(t, []model.NounID{"A", "C", "D"}, path.Nouns)
}

func TestShortestPathNoPath(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "A", "B", "RelatedTo", 1))
	_, err := idx.ShortestPath(context.Background(), "A", "Z", DefaultPathOptions())
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindNotFound, kind)
}

func TestShortestPathSameNode(t *testing.T) {
	idx := New()
	path, err := idx.ShortestPath(context.Background(), "A", "A", DefaultPathOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, path.Length)
}

func TestShortestPathMaxDepth(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "A", "B", "RelatedTo", 1))
	idx.AddEdge(verb("v2", "B", "C", "RelatedTo", 1))
	idx.AddEdge(verb("v3", "C", "D", "RelatedTo", 1))

	opts := DefaultPathOptions()
	opts.MaxDepth = 1
	_, err := idx.ShortestPath(context.Background(), "A", "D", opts)
	require.Error(t, err)
}

func TestNeighborhoodRadius(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "A", "B", "RelatedTo", 1))
	idx.AddEdge(verb("v2", "B", "C", "RelatedTo", 1))
	idx.AddEdge(verb("v3", "C", "D", "RelatedTo", 1))

	within, err := idx.Neighborhood(context.Background(), "A", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.NounID{"B", "C"}, within)
}

func TestNeighborhoodZeroRadiusReturnsStartSet(t *testing.T) {
	idx := New()
	idx.AddEdge(verb("v1", "A", "B", "RelatedTo", 1))
	within, err := idx.Neighborhood(context.Background(), "A", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.NounID{"A"}, within)
}

type fakeEnumerator struct {
	verbs []*model.Verb
}

func (f fakeEnumerator) ListVerbs(_ context.Context, _ string) ([]*model.Verb, error) {
	return f.verbs, nil
}

func TestRebuildNeverReentersIndex(t *testing.T) {
	enumerator := fakeEnumerator{verbs: []*model.Verb{
		verb("v1", "A", "B", "RelatedTo", 1),
		verb("v2", "B", "C", "RelatedTo", 1),
	}}
	fresh, err := Rebuild(context.Background(), enumerator, "verbs/")
	require.NoError(t, err)

	out := fresh.Neighbors("A", DirectionOut, nil)
	require.Len(t, out, 1)
	assert.Equal(t, model.NounID("B"), out[0].NounID)
}
