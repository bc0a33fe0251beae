package storageadapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/triadb/triadb/pkg/model"
)

// S3Adapter stores one object per key in an S3-compatible bucket. The same
// client works against Cloudflare R2 by supplying a custom endpoint in
// S3Options, since R2's API is S3-compatible.
type S3Adapter struct {
	client *s3.Client
	bucket string
}

// S3Options configures the adapter. Endpoint is optional; set it to R2's
// account endpoint (https://<account>.r2.cloudflarestorage.com) to target
// R2 instead of AWS S3.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
}

// NewS3Adapter loads AWS credentials from the standard credential chain
// and returns an adapter targeting opts.Bucket.
func NewS3Adapter(ctx context.Context, opts S3Options) (*S3Adapter, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "s3.LoadConfig", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = &opts.Endpoint
			o.UsePathStyle = true
		}
	})
	return &S3Adapter{client: client, bucket: opts.Bucket}, nil
}

func (a *S3Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &a.bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, model.NewError(model.KindNotFound, "s3.Get", nil)
		}
		var nf *smithyhttp.ResponseError
		if errors.As(err, &nf) && nf.HTTPStatusCode() == 404 {
			return nil, model.NewError(model.KindNotFound, "s3.Get", nil)
		}
		return nil, model.NewError(model.KindStorageUnavailable, "s3.Get", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.NewError(model.KindStorageUnavailable, "s3.Get", err)
	}
	return data, nil
}

func (a *S3Adapter) Put(ctx context.Context, key string, value []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "s3.Put", err)
	}
	return nil
}

func (a *S3Adapter) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &a.bucket, Key: &key})
	if err != nil {
		return model.NewError(model.KindStorageUnavailable, "s3.Delete", err)
	}
	return nil
}

func (a *S3Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &a.bucket, Key: &key})
	if err != nil {
		var nf *smithyhttp.ResponseError
		if errors.As(err, &nf) && nf.HTTPStatusCode() == 404 {
			return false, nil
		}
		return false, model.NewError(model.KindStorageUnavailable, "s3.Exists", err)
	}
	return true, nil
}

func (a *S3Adapter) ListPrefix(ctx context.Context, prefix, cursor string) ([]string, string, error) {
	input := &s3.ListObjectsV2Input{Bucket: &a.bucket, Prefix: &prefix, MaxKeys: int32Ptr(1000)}
	if cursor != "" {
		input.StartAfter = &cursor
	}
	out, err := a.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", model.NewError(model.KindStorageUnavailable, "s3.ListPrefix", err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, *obj.Key)
	}
	sort.Strings(keys)
	next := ""
	if out.IsTruncated != nil && *out.IsTruncated && len(keys) > 0 {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

func (a *S3Adapter) BatchPut(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := a.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func int32Ptr(v int32) *int32 { return &v }
