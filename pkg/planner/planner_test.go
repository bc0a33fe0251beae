package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triadb/triadb/pkg/graphindex"
	"github.com/triadb/triadb/pkg/hnsw"
	"github.com/triadb/triadb/pkg/metadataindex"
	"github.com/triadb/triadb/pkg/model"
)

type fakeLookup struct {
	vectors map[model.NounID][]float32
	types   map[model.NounID]string
}

func (f fakeLookup) Vector(_ context.Context, id model.NounID) ([]float32, bool, error) {
	v, ok := f.vectors[id]
	return v, ok, nil
}

func (f fakeLookup) Type(_ context.Context, id model.NounID) (string, bool, error) {
	t, ok := f.types[id]
	return t, ok, nil
}

func buildConceptIndex(t *testing.T) (*hnsw.Index, fakeLookup) {
	t.Helper()
	idx := hnsw.New(3, hnsw.DefaultConfig())
	vecs := map[model.NounID][]float32{
		"1": {1, 0, 0},
		"2": {0.9, 0.1, 0},
		"3": {0, 0, 1},
	}
	types := map[model.NounID]string{"1": "Concept", "2": "Concept", "3": "Concept"}
	for id, v := range vecs {
		require.NoError(t, idx.Add(&model.Noun{ID: id, Type: "Concept", Vector: v}))
	}
	return idx, fakeLookup{vectors: vecs, types: types}
}

func TestS1VectorKNNOrdering(t *testing.T) {
	vecIdx, lookup := buildConceptIndex(t)
	p := New(vecIdx, graphindex.New(), metadataindex.New(), lookup)

	results, mode, err := p.Search(context.Background(), Query{
		Vector:          []float32{1, 0, 0},
		K:               2,
		TypeRestriction: []string{"Concept"},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeVectorFirst, mode)
	require.Len(t, results, 2)
	assert.Equal(t, model.NounID("1"), results[0].ID)
	assert.Equal(t, model.NounID("2"), results[1].ID)
}

func TestS3FilterFirstSoundness(t *testing.T) {
	meta := metadataindex.New()
	for i := 0; i < 100; i++ {
		status := "active"
		if i%2 == 1 {
			status = "archived"
		}
		id := model.NounID(fmt.Sprintf("n%03d", i))
		meta.AddNoun(&model.Noun{ID: id, Metadata: map[string]any{"status": status, "i": float64(i)}})
	}
	p := New(hnsw.New(3, hnsw.DefaultConfig()), graphindex.New(), meta, nil)

	results, mode, err := p.Search(context.Background(), Query{
		Filter: metadataindex.Leaf{Predicate: metadataindex.Predicate{Field: "status", Op: metadataindex.OpEq, Value: "active"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeFilterFirst, mode)
	for _, r := range results {
		assert.Equal(t, 1.0, r.MetadataScore)
	}
}

func TestS6PureGraphScoring(t *testing.T) {
	graph := graphindex.New()
	graph.AddEdge(&model.Verb{ID: "v1", Source: "A", Target: "B", Type: "RelatedTo", Weight: 1})
	graph.AddEdge(&model.Verb{ID: "v2", Source: "B", Target: "C", Type: "RelatedTo", Weight: 1})
	graph.AddEdge(&model.Verb{ID: "v3", Source: "A", Target: "D", Type: "RelatedTo", Weight: 1})

	p := New(hnsw.New(3, hnsw.DefaultConfig()), graph, metadataindex.New(), nil)

	results, mode, err := p.Search(context.Background(), Query{
		GraphStart:    []model.NounID{"A"},
		GraphMaxDepth: 2,
		Weights:       Weights{Alpha: 0, Beta: 1, Gamma: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeGraphFirst, mode)
	require.Len(t, results, 3)
	// B and D are 1 hop (score 0.5), C is 2 hops (score 0.333) -- B/D tie,
	// broken by ascending id.
	assert.Equal(t, model.NounID("B"), results[0].ID)
	assert.Equal(t, model.NounID("D"), results[1].ID)
	assert.Equal(t, model.NounID("C"), results[2].ID)
}

func TestEmptyQueryRejected(t *testing.T) {
	p := New(hnsw.New(3, hnsw.DefaultConfig()), graphindex.New(), metadataindex.New(), nil)
	_, _, err := p.Search(context.Background(), Query{})
	require.Error(t, err)
	kind, ok := model.ErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, model.KindInvalidArgument, kind)
}

func TestVectorSearchWithNoTypeRestrictionReturnsEmpty(t *testing.T) {
	p := New(hnsw.New(3, hnsw.DefaultConfig()), graphindex.New(), metadataindex.New(), nil)
	results, mode, err := p.Search(context.Background(), Query{
		Vector: []float32{1, 0, 0},
		K:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, ModeVectorFirst, mode)
	assert.Empty(t, results)
}
