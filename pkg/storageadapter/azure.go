package storageadapter

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/triadb/triadb/pkg/model"
)

// AzureAdapter stores one blob per key in an Azure Blob Storage container.
type AzureAdapter struct {
	client    *azblob.Client
	container string
}

// NewAzureAdapter opens an Azure client for accountURL using accountKey
// credentials and returns an adapter targeting container.
func NewAzureAdapter(accountURL, accountName, accountKey, container string) (*AzureAdapter, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, model.NewError(model.KindInvalidArgument, "azure.NewCredential", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "azure.NewClient", err)
	}
	return &AzureAdapter{client: client, container: container}, nil
}

func (a *AzureAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, model.NewError(model.KindNotFound, "azure.Get", nil)
		}
		return nil, model.NewError(model.KindStorageUnavailable, "azure.Get", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "azure.Get", err)
	}
	return data, nil
}

func (a *AzureAdapter) Put(ctx context.Context, key string, value []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.container, key, value, nil)
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "azure.Put", err)
	}
	return nil
}

func (a *AzureAdapter) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return model.NewError(model.KindStorageUnavailable, "azure.Delete", err)
	}
	return nil
}

func (a *AzureAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, model.NewError(model.KindStorageUnavailable, "azure.Exists", err)
	}
	return true, nil
}

func (a *AzureAdapter) ListPrefix(ctx context.Context, prefix, cursor string) ([]string, string, error) {
	var keys []string
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, "", model.NewError(model.KindStorageUnavailable, "azure.ListPrefix", err)
		}
		for _, item := range page.Segment.BlobItems {
			keys = append(keys, *item.Name)
		}
		if len(keys) >= 1000 {
			break
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

func (a *AzureAdapter) BatchPut(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := a.Put(ctx, k, bytes.NewBuffer(v).Bytes()); err != nil {
			return err
		}
	}
	return nil
}
