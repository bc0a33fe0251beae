package storageadapter

import (
	"context"
	"errors"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	"github.com/triadb/triadb/pkg/model"
	"google.golang.org/api/iterator"
)

// GCSAdapter stores one object per key in a Google Cloud Storage bucket.
type GCSAdapter struct {
	client *storage.Client
	bucket string
}

// NewGCSAdapter opens a GCS client using application-default credentials.
func NewGCSAdapter(ctx context.Context, bucket string) (*GCSAdapter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "gcs.NewClient", err)
	}
	return &GCSAdapter{client: client, bucket: bucket}, nil
}

func (a *GCSAdapter) obj(key string) *storage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(key)
}

func (a *GCSAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := a.obj(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, model.NewError(model.KindNotFound, "gcs.Get", nil)
	}
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "gcs.Get", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "gcs.Get", err)
	}
	return data, nil
}

func (a *GCSAdapter) Put(ctx context.Context, key string, value []byte) error {
	w := a.obj(key).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		w.Close()
		return model.NewError(model.KindStorageUnavailable, "gcs.Put", err)
	}
	if err := w.Close(); err != nil {
		return model.NewError(model.KindStorageUnavailable, "gcs.Put", err)
	}
	return nil
}

func (a *GCSAdapter) Delete(ctx context.Context, key string) error {
	err := a.obj(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return model.NewError(model.KindStorageUnavailable, "gcs.Delete", err)
	}
	return nil
}

func (a *GCSAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.obj(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, model.NewError(model.KindStorageUnavailable, "gcs.Exists", err)
	}
	return true, nil
}

func (a *GCSAdapter) ListPrefix(ctx context.Context, prefix, cursor string) ([]string, string, error) {
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: prefix, StartOffset: cursor})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, "", model.NewError(model.KindStorageUnavailable, "gcs.ListPrefix", err)
		}
		keys = append(keys, attrs.Name)
		if len(keys) >= 1000 {
			break
		}
	}
	sort.Strings(keys)
	next := ""
	if len(keys) >= 1000 {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

func (a *GCSAdapter) BatchPut(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := a.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
