package storageadapter

import (
	"context"
	"log"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/triadb/triadb/pkg/model"
)

// BadgerAdapter persists keys/values in an embedded BadgerDB instance,
// the same engine the teacher lineage uses for its local-disk graph
// storage. Unlike the teacher's BadgerEngine, this adapter makes no
// assumptions about value shape — it is a pure byte-string KV store, with
// noun/verb encoding handled above it.
type BadgerAdapter struct {
	db *badger.DB
}

// BadgerOptions configures the embedded engine.
type BadgerOptions struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
	Logger     badger.Logger
}

// NewBadgerAdapter opens (or creates) a BadgerDB instance at opts.DataDir,
// or an in-memory instance when opts.InMemory is set.
func NewBadgerAdapter(opts BadgerOptions) (*BadgerAdapter, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	bopts.InMemory = opts.InMemory
	bopts.SyncWrites = opts.SyncWrites
	if opts.Logger != nil {
		bopts.Logger = opts.Logger
	} else {
		bopts.Logger = nil
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "badger.Open", err)
	}
	return &BadgerAdapter{db: db}, nil
}

// Close releases the underlying BadgerDB handles.
func (a *BadgerAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		log.Printf("storageadapter: badger close: %v", err)
		return model.NewError(model.KindStorageUnavailable, "badger.Close", err)
	}
	return nil
}

func (a *BadgerAdapter) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, model.NewError(model.KindNotFound, "badger.Get", nil)
	}
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "badger.Get", err)
	}
	return out, nil
}

func (a *BadgerAdapter) Put(_ context.Context, key string, value []byte) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "badger.Put", err)
	}
	return nil
}

func (a *BadgerAdapter) Delete(_ context.Context, key string) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "badger.Delete", err)
	}
	return nil
}

func (a *BadgerAdapter) Exists(_ context.Context, key string) (bool, error) {
	var found bool
	err := a.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, model.NewError(model.KindStorageUnavailable, "badger.Exists", err)
	}
	return found, nil
}

func (a *BadgerAdapter) ListPrefix(_ context.Context, prefix, cursor string) ([]string, string, error) {
	var matches []string
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			matches = append(matches, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, "", model.NewError(model.KindStorageUnavailable, "badger.ListPrefix", err)
	}
	sort.Strings(matches)
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(matches, cursor)
	}
	if start >= len(matches) {
		return nil, "", nil
	}
	const pageSize = 1000
	end := start + pageSize
	if end > len(matches) {
		end = len(matches)
	}
	page := matches[start:end]
	next := ""
	if end < len(matches) {
		next = matches[end]
	}
	return page, next, nil
}

func (a *BadgerAdapter) BatchPut(_ context.Context, items map[string][]byte) error {
	wb := a.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range items {
		if err := wb.Set([]byte(k), v); err != nil {
			return model.NewError(model.KindStorageUnavailable, "badger.BatchPut", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return model.NewError(model.KindStorageUnavailable, "badger.BatchPut", err)
	}
	return nil
}
