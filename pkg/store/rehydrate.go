package store

import (
	"context"

	"github.com/triadb/triadb/pkg/graphindex"
	"github.com/triadb/triadb/pkg/recordframe"
)

// rebuildGraph rehydrates the graph adjacency index from persisted verb
// records, using graphindex's storage-only RawVerbEnumerator so the
// rebuild never re-enters a graph accessor (spec.md §9's historical
// deadlock rule). It swaps in a fresh Index only once the scan
// completes, per that rule's "hand-off to a new immutable snapshot".
func (s *Store) rebuildGraph(ctx context.Context) error {
	enumerator := graphindex.JSONVerbDecoder{
		Get:        s.getVerbPayload,
		ListPrefix: s.adapter.ListPrefix,
	}
	fresh, err := graphindex.Rebuild(ctx, enumerator, verbKeyPrefix)
	if err != nil {
		return err
	}
	s.graph = fresh
	return nil
}

// getVerbPayload adapts the adapter's recordframe-wrapped verb bytes into
// the plain JSON payload JSONVerbDecoder.ListVerbs expects, since
// pkg/store always persists verbs through encodeVerb's recordframe
// envelope rather than raw JSON.
func (s *Store) getVerbPayload(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.adapter.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_, payload, err := recordframe.Decode(raw, recordSchemaVersion)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// rehydrateNouns replays every persisted noun record into the in-memory
// index, vector, and metadata state, so a store opened over a
// previously-populated StorageAdapter comes back fully queryable.
func (s *Store) rehydrateNouns(ctx context.Context) error {
	cursor := ""
	for {
		keys, next, err := s.adapter.ListPrefix(ctx, "nouns/", cursor)
		if err != nil {
			return err
		}
		for _, key := range keys {
			frame, err := s.adapter.Get(ctx, key)
			if err != nil {
				return err
			}
			n, err := decodeNoun(frame)
			if err != nil {
				return err
			}
			if err := s.vector.Add(n); err != nil {
				return err
			}
			s.meta.AddNoun(n)
			s.types.RegisterNounType(n.Type)
			s.nouns[n.ID] = n
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return nil
}

// rehydrateVerbs mirrors rehydrateNouns for the verbs map (the graph
// index itself is already rebuilt by rebuildGraph).
func (s *Store) rehydrateVerbs(ctx context.Context) error {
	cursor := ""
	for {
		keys, next, err := s.adapter.ListPrefix(ctx, verbKeyPrefix, cursor)
		if err != nil {
			return err
		}
		for _, key := range keys {
			frame, err := s.adapter.Get(ctx, key)
			if err != nil {
				return err
			}
			v, err := decodeVerb(frame)
			if err != nil {
				return err
			}
			s.types.RegisterVerbType(v.Type)
			s.verbs[v.ID] = v
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return nil
}
