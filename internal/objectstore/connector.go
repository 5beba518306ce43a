// Package objectstore is the storage gateway used by step executions. It hides
// the concrete object store behind per-bucket connectors.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by connectors when an object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidPayload is returned by Put for anything other than a buffer or a file path.
	ErrInvalidPayload = errors.New("uploading data must be buffer or file path")
)

// ObjectAttrs is the metadata returned by a HEAD request.
type ObjectAttrs struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
}

// Connector talks to a single bucket.
type Connector interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (*ObjectAttrs, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// CopyTo copies key into dstBucket/dstKey, which may live in another bucket.
	CopyTo(ctx context.Context, key, dstBucket, dstKey string) error
}

// Factory creates the connector for a bucket.
type Factory func(ctx context.Context, bucket string) (Connector, error)

// ConnectorCache keeps one connector per bucket for the lifetime of the
// process. Entries are created lazily and never removed; two goroutines racing
// on the first access may both build a connector, and one of them wins.
type ConnectorCache struct {
	factory    Factory
	connectors sync.Map
}

func NewConnectorCache(factory Factory) *ConnectorCache {
	return &ConnectorCache{factory: factory}
}

// Connector returns the cached connector for bucket, creating it on first use.
func (c *ConnectorCache) Connector(ctx context.Context, bucket string) (Connector, error) {
	if conn, ok := c.connectors.Load(bucket); ok {
		return conn.(Connector), nil
	}
	conn, err := c.factory(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector for bucket %s: %w", bucket, err)
	}
	actual, _ := c.connectors.LoadOrStore(bucket, conn)
	return actual.(Connector), nil
}
