package storageadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triadb/triadb/pkg/model"
)

func TestMemoryAdapterCRUD(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()

	_, err := a.Get(ctx, "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	require.NoError(t, a.Put(ctx, "noun/1", []byte("a")))
	v, err := a.Get(ctx, "noun/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	ok, err := a.Exists(ctx, "noun/1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Delete(ctx, "noun/1"))
	ok, _ = a.Exists(ctx, "noun/1")
	assert.False(t, ok)
}

func TestMemoryAdapterListPrefix(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	require.NoError(t, a.BatchPut(ctx, map[string][]byte{
		"noun/1": []byte("a"),
		"noun/2": []byte("b"),
		"verb/1": []byte("c"),
	}))
	keys, next, err := a.ListPrefix(ctx, "noun/", "")
	require.NoError(t, err)
	assert.Equal(t, "", next)
	assert.ElementsMatch(t, []string{"noun/1", "noun/2"}, keys)
}

func TestLocalFSAdapterCrashSafeWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := NewLocalFSAdapter(dir)
	require.NoError(t, err)

	require.NoError(t, a.Put(ctx, "hnsw/document/partition", []byte("payload")))
	v, err := a.Get(ctx, "hnsw/document/partition")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	// overwrite must not leave a torn file
	require.NoError(t, a.Put(ctx, "hnsw/document/partition", []byte("payload-v2")))
	v, err = a.Get(ctx, "hnsw/document/partition")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-v2"), v)
}

type flakyAdapter struct {
	failures int
	calls    int
}

func (f *flakyAdapter) Get(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, model.NewError(model.KindStorageUnavailable, "flaky.Get", nil)
	}
	return []byte("ok"), nil
}
func (f *flakyAdapter) Put(context.Context, string, []byte) error        { return nil }
func (f *flakyAdapter) Delete(context.Context, string) error             { return nil }
func (f *flakyAdapter) Exists(context.Context, string) (bool, error)     { return true, nil }
func (f *flakyAdapter) ListPrefix(context.Context, string, string) ([]string, string, error) {
	return nil, "", nil
}
func (f *flakyAdapter) BatchPut(context.Context, map[string][]byte) error { return nil }

func TestRetryAdapterRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyAdapter{failures: 2}
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	retried := WithRetry(inner, policy)

	v, err := retried.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryAdapterGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyAdapter{failures: 100}
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxAttempts = 3
	retried := WithRetry(inner, policy)

	_, err := retried.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStorageUnavailable))
	assert.Equal(t, 3, inner.calls)
}
