//go:build js && wasm

package storageadapter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"syscall/js"

	"github.com/triadb/triadb/pkg/model"
)

// OPFSAdapter stores keys as files in the browser's Origin Private File
// System, for a store embedded in a WASM build running in-page. Every
// operation hands off to JS promises bridged back onto the calling
// goroutine, since syscall/js has no blocking file API of its own.
type OPFSAdapter struct {
	root js.Value // a FileSystemDirectoryHandle
	mu   sync.Mutex
}

// NewOPFSAdapter resolves the OPFS root directory handle. Must be called
// from a context where navigator.storage.getDirectory() is available.
func NewOPFSAdapter(ctx context.Context) (*OPFSAdapter, error) {
	root, err := awaitPromise(ctx, js.Global().Get("navigator").Get("storage").Call("getDirectory"))
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "opfs.getDirectory", err)
	}
	return &OPFSAdapter{root: root}, nil
}

func awaitPromise(ctx context.Context, promise js.Value) (js.Value, error) {
	resultCh := make(chan js.Value, 1)
	errCh := make(chan js.Value, 1)
	then := js.FuncOf(func(this js.Value, args []js.Value) any {
		resultCh <- args[0]
		return nil
	})
	catch := js.FuncOf(func(this js.Value, args []js.Value) any {
		errCh <- args[0]
		return nil
	})
	defer then.Release()
	defer catch.Release()
	promise.Call("then", then).Call("catch", catch)
	select {
	case v := <-resultCh:
		return v, nil
	case e := <-errCh:
		return js.Undefined(), js.Error{Value: e}
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}

func (a *OPFSAdapter) fileHandle(ctx context.Context, key string, create bool) (js.Value, error) {
	opts := js.ValueOf(map[string]any{"create": create})
	return awaitPromise(ctx, a.root.Call("getFileHandle", key, opts))
}

func (a *OPFSAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	handle, err := a.fileHandle(ctx, key, false)
	if err != nil {
		return nil, model.NewError(model.KindNotFound, "opfs.Get", err)
	}
	file, err := awaitPromise(ctx, handle.Call("getFile"))
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "opfs.Get", err)
	}
	buf, err := awaitPromise(ctx, file.Call("arrayBuffer"))
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "opfs.Get", err)
	}
	data := make([]byte, buf.Get("byteLength").Int())
	js.CopyBytesToGo(data, js.Global().Get("Uint8Array").New(buf))
	return data, nil
}

func (a *OPFSAdapter) Put(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	handle, err := a.fileHandle(ctx, key, true)
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "opfs.Put", err)
	}
	writable, err := awaitPromise(ctx, handle.Call("createWritable"))
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "opfs.Put", err)
	}
	jsBytes := js.Global().Get("Uint8Array").New(len(value))
	js.CopyBytesToJS(jsBytes, value)
	if _, err := awaitPromise(ctx, writable.Call("write", jsBytes)); err != nil {
		return model.NewError(model.KindStorageUnavailable, "opfs.Put", err)
	}
	if _, err := awaitPromise(ctx, writable.Call("close")); err != nil {
		return model.NewError(model.KindStorageUnavailable, "opfs.Put", err)
	}
	return nil
}

func (a *OPFSAdapter) Delete(ctx context.Context, key string) error {
	_, err := awaitPromise(ctx, a.root.Call("removeEntry", key))
	if err != nil {
		return nil // missing entry is not an error
	}
	return nil
}

func (a *OPFSAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.fileHandle(ctx, key, false)
	return err == nil, nil
}

func (a *OPFSAdapter) ListPrefix(ctx context.Context, prefix, cursor string) ([]string, string, error) {
	entries, err := awaitPromise(ctx, a.root.Call("keys"))
	if err != nil {
		return nil, "", model.NewError(model.KindStorageUnavailable, "opfs.ListPrefix", err)
	}
	var keys []string
	iterNext := entries.Get("next")
	for {
		step, err := awaitPromise(ctx, iterNext.Call("call", entries))
		if err != nil {
			break
		}
		if step.Get("done").Bool() {
			break
		}
		k := step.Get("value").String()
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(keys, cursor)
	}
	if start >= len(keys) {
		return nil, "", nil
	}
	return keys[start:], "", nil
}

func (a *OPFSAdapter) BatchPut(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := a.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
