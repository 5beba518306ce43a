package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// StorageConnector is an objectstore.Connector for one GCS bucket.
type StorageConnector struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewStorageConnectorFactory returns a factory that shares one storage client
// across all buckets.
func NewStorageConnectorFactory(client *storage.Client) objectstore.Factory {
	return func(_ context.Context, bucket string) (objectstore.Connector, error) {
		if bucket == "" {
			return nil, fmt.Errorf("bucket name must be provided")
		}
		return &StorageConnector{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
	}
}

func (c *StorageConnector) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	writer := c.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", mapStorageError(err))
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", mapStorageError(err))
	}
	return nil
}

func (c *StorageConnector) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := c.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", c.name, key, mapStorageError(err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", c.name, key, mapStorageError(err))
	}
	return data, nil
}

func (c *StorageConnector) Head(ctx context.Context, key string) (*objectstore.ObjectAttrs, error) {
	attrs, err := c.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stat gs://%s/%s: %w", c.name, key, mapStorageError(err))
	}
	return &objectstore.ObjectAttrs{
		Bucket:      attrs.Bucket,
		Key:         attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}, nil
}

func (c *StorageConnector) List(ctx context.Context, prefix string) ([]string, error) {
	it := c.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", c.name, prefix, mapStorageError(err))
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (c *StorageConnector) CopyTo(ctx context.Context, key, dstBucket, dstKey string) error {
	src := c.bucket.Object(key)
	dst := c.client.Bucket(dstBucket).Object(dstKey)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("failed to copy gs://%s/%s: %w", c.name, key, mapStorageError(err))
	}
	return nil
}

// mapStorageError folds the different not-found shapes of the GCS client into
// objectstore.ErrNotFound.
func mapStorageError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", objectstore.ErrNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", objectstore.ErrNotFound, err)
	}
	return err
}
