package hnsw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/triadb/triadb/pkg/model"
	"github.com/triadb/triadb/pkg/recordframe"
	"github.com/triadb/triadb/pkg/storageadapter"
)

// partitionSchemaVersion is the byte tag every persisted partition frame
// carries; bump it whenever the on-disk layout below changes shape.
const partitionSchemaVersion = 1

// wireNode is the JSON-serializable form of a node. Encoding neighbor
// lists as plain string ids keeps the format storage-adapter agnostic and
// easy to diff in tests, at some space cost relative to a packed binary
// layout — acceptable since partitions are loaded once and kept resident.
type wireNode struct {
	ID        model.NounID     `json:"id"`
	Vector    []float32        `json:"vector"`
	Level     int              `json:"level"`
	Neighbors [][]model.NounID `json:"neighbors"`
	Deleted   bool             `json:"deleted"`
}

type wirePartition struct {
	NounType   string     `json:"noun_type"`
	Dimensions int        `json:"dimensions"`
	EntryPoint model.NounID `json:"entry_point"`
	MaxLevel   int        `json:"max_level"`
	Tombstones int        `json:"tombstones"`
	Nodes      []wireNode `json:"nodes"`
}

// partitionKey is the storage adapter key a type's partition is persisted
// under.
func partitionKey(nounType string) string {
	return fmt.Sprintf("hnsw/%s/partition", nounType)
}

// Save persists nounType's partition, framed with a version tag and a
// CRC32C trailer so a torn write is detected as corruption rather than
// silently producing a truncated graph on reload.
func (idx *Index) Save(ctx context.Context, adapter storageadapter.StorageAdapter, nounType string) error {
	idx.mu.RLock()
	p, ok := idx.partitions[nounType]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}

	p.mu.RLock()
	wp := wirePartition{
		NounType:   p.nounType,
		Dimensions: p.dimensions,
		EntryPoint: p.entryPoint,
		MaxLevel:   p.maxLevel,
		Tombstones: p.tombstones,
		Nodes:      make([]wireNode, 0, len(p.nodes)),
	}
	for _, nd := range p.nodes {
		wp.Nodes = append(wp.Nodes, wireNode{
			ID:        nd.id,
			Vector:    nd.vector,
			Level:     nd.level,
			Neighbors: nd.neighbors,
			Deleted:   nd.deleted,
		})
	}
	p.mu.RUnlock()

	payload, err := json.Marshal(wp)
	if err != nil {
		return model.NewError(model.KindInvalidArgument, "hnsw.Save", err)
	}
	frame := recordframe.Encode(partitionSchemaVersion, payload)
	return adapter.Put(ctx, partitionKey(nounType), frame)
}

// Load reads nounType's partition back from adapter, replacing any
// in-memory partition of the same type. A corrupt frame returns
// model.ErrIndexCorrupt and leaves the Index's in-memory state untouched
// so other partitions keep serving.
func (idx *Index) Load(ctx context.Context, adapter storageadapter.StorageAdapter, nounType string) error {
	raw, err := adapter.Get(ctx, partitionKey(nounType))
	if err != nil {
		return err
	}
	_, payload, err := recordframe.Decode(raw, partitionSchemaVersion)
	if err != nil {
		return err
	}
	var wp wirePartition
	if err := json.Unmarshal(payload, &wp); err != nil {
		return model.NewError(model.KindIndexCorrupt, "hnsw.Load", err)
	}

	p := &partition{
		nounType:   wp.NounType,
		dimensions: wp.Dimensions,
		nodes:      make(map[model.NounID]*node, len(wp.Nodes)),
		entryPoint: wp.EntryPoint,
		maxLevel:   wp.MaxLevel,
		tombstones: wp.Tombstones,
	}
	for _, wn := range wp.Nodes {
		p.nodes[wn.ID] = &node{
			id:        wn.ID,
			vector:    wn.Vector,
			level:     wn.Level,
			neighbors: wn.Neighbors,
			deleted:   wn.Deleted,
		}
	}

	idx.mu.Lock()
	idx.partitions[nounType] = p
	idx.mu.Unlock()
	return nil
}
