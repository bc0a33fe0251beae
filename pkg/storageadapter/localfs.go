package storageadapter

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/triadb/triadb/pkg/model"
)

// LocalFSAdapter stores one file per key under a root directory. Writes
// go to a temp file in the same directory and are renamed into place, so
// a crash mid-write never leaves a torn value at the target path — the
// same pattern the teacher lineage uses for its snapshot writer.
type LocalFSAdapter struct {
	root string
	mu   sync.Mutex
}

// NewLocalFSAdapter creates (if needed) root and returns an adapter rooted
// there.
func NewLocalFSAdapter(root string) (*LocalFSAdapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "localfs.New", err)
	}
	return &LocalFSAdapter{root: root}, nil
}

// keyPath maps a logical key to a filesystem path under root. Slashes in
// the key are not escaped, so a key like "verbs/abc" becomes nested
// directories.
func (a *LocalFSAdapter) keyPath(key string) string {
	return filepath.Join(a.root, filepath.FromSlash(key))
}

func (a *LocalFSAdapter) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(a.keyPath(key))
	if os.IsNotExist(err) {
		return nil, model.NewError(model.KindNotFound, "localfs.Get", nil)
	}
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "localfs.Get", err)
	}
	return data, nil
}

func (a *LocalFSAdapter) Put(_ context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeAtomic(key, value)
}

func (a *LocalFSAdapter) writeAtomic(key string, value []byte) error {
	path := a.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.NewError(model.KindStorageUnavailable, "localfs.Put", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "localfs.Put", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return model.NewError(model.KindStorageUnavailable, "localfs.Put", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return model.NewError(model.KindStorageUnavailable, "localfs.Put", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return model.NewError(model.KindStorageUnavailable, "localfs.Put", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return model.NewError(model.KindStorageUnavailable, "localfs.Put", err)
	}
	return nil
}

func (a *LocalFSAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := os.Remove(a.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return model.NewError(model.KindStorageUnavailable, "localfs.Delete", err)
	}
	return nil
}

func (a *LocalFSAdapter) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(a.keyPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, model.NewError(model.KindStorageUnavailable, "localfs.Exists", err)
	}
	return true, nil
}

func (a *LocalFSAdapter) ListPrefix(_ context.Context, prefix, cursor string) ([]string, string, error) {
	var matches []string
	walkRoot := filepath.Join(a.root, filepath.FromSlash(prefix))
	// The prefix may not be a directory boundary; fall back to a full walk
	// from root when the prefix directory doesn't exist as such.
	base := a.root
	if info, err := os.Stat(walkRoot); err == nil && info.IsDir() {
		base = walkRoot
	}
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(a.root, path)
		if relErr != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, ".tmp-") || strings.Contains(key, "/.tmp-") {
			return nil
		}
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, key)
		}
		return nil
	})
	if err != nil {
		return nil, "", model.NewError(model.KindStorageUnavailable, "localfs.ListPrefix", err)
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

func (a *LocalFSAdapter) BatchPut(_ context.Context, items map[string][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range items {
		if err := a.writeAtomic(k, v); err != nil {
			return err
		}
	}
	return nil
}
