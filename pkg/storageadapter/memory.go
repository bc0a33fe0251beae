package storageadapter

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/triadb/triadb/pkg/model"
)

// MemoryAdapter is an in-process map-backed StorageAdapter, used for tests
// and for ephemeral stores that never need to survive a restart.
type MemoryAdapter struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{data: make(map[string][]byte)}
}

func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.data[key]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "memory.Get", nil)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (a *MemoryAdapter) Put(_ context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	a.data[key] = cp
	return nil
}

func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, key)
	return nil
}

func (a *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.data[key]
	return ok, nil
}

func (a *MemoryAdapter) ListPrefix(_ context.Context, prefix, cursor string) ([]string, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var matches []string
	for k := range a.data {
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, k)
		}
	}
	sort.Strings(matches)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(matches, cursor)
	}
	const pageSize = 1000
	end := start + pageSize
	if end > len(matches) {
		end = len(matches)
	}
	if start >= len(matches) {
		return nil, "", nil
	}
	page := matches[start:end]
	next := ""
	if end < len(matches) {
		next = matches[end]
	}
	return page, next, nil
}

func (a *MemoryAdapter) BatchPut(_ context.Context, items map[string][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range items {
		cp := make([]byte, len(v))
		copy(cp, v)
		a.data[k] = cp
	}
	return nil
}
