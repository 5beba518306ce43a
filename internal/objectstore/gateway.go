package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const jsonContentType = "application/json"

// Gateway exposes the storage operations used by the engine. It never retries;
// every operation is safe for the caller to repeat.
type Gateway struct {
	connectors *ConnectorCache
	logger     *slog.Logger
}

func NewGateway(connectors *ConnectorCache, logger *slog.Logger) *Gateway {
	return &Gateway{connectors: connectors, logger: logger}
}

// CopyResult reports both ends of a copy whether or not it succeeded.
type CopyResult struct {
	Source      string `json:"src"`
	Destination string `json:"dst"`
}

// WriteResult is the outcome of WriteJSON.
type WriteResult struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Error  string `json:"error,omitempty"`
}

// Put uploads data to bucket/key. data is either an in-memory buffer
// ([]byte or io.Reader) or the path of a local file (string).
func (g *Gateway) Put(ctx context.Context, bucket, key string, data any) error {
	var (
		body        io.Reader
		contentType = "application/octet-stream"
	)
	switch v := data.(type) {
	case []byte:
		body = bytes.NewReader(v)
	case io.Reader:
		body = v
	case string:
		f, err := os.Open(v)
		if err != nil {
			return fmt.Errorf("could not open local file %s: %w", v, err)
		}
		defer f.Close()
		body = f
		if filepath.Ext(v) == ".json" {
			contentType = jsonContentType
		}
	default:
		return fmt.Errorf("%w: got %T", ErrInvalidPayload, data)
	}

	conn, err := g.connectors.Connector(ctx, bucket)
	if err != nil {
		return err
	}
	if err := conn.Put(ctx, key, body, contentType); err != nil {
		g.logger.Error("Failed to upload object", "bucket", bucket, "key", key, "error", err)
		return fmt.Errorf("failed to upload gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get returns the object bytes. Any failure, not-found or otherwise, reports
// the object as missing; use HeadExists when the difference matters.
func (g *Gateway) Get(ctx context.Context, bucket, key string) ([]byte, bool) {
	conn, err := g.connectors.Connector(ctx, bucket)
	if err != nil {
		g.logger.Error("Failed to get connector", "bucket", bucket, "error", err)
		return nil, false
	}
	data, err := conn.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			g.logger.Debug("Object not found", "bucket", bucket, "key", key)
		} else {
			g.logger.Error("Failed to read object", "bucket", bucket, "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

// HeadExists reports whether bucket/key exists, with its metadata when it does.
func (g *Gateway) HeadExists(ctx context.Context, bucket, key string) (bool, *ObjectAttrs) {
	conn, err := g.connectors.Connector(ctx, bucket)
	if err != nil {
		g.logger.Error("Failed to get connector", "bucket", bucket, "error", err)
		return false, nil
	}
	attrs, err := conn.Head(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.logger.Warn("HEAD request failed", "bucket", bucket, "key", key, "error", err)
		}
		return false, nil
	}
	return true, attrs
}

// List returns the keys under prefix. Errors yield an empty list: callers read
// an empty result as "nothing found".
func (g *Gateway) List(ctx context.Context, bucket, prefix string) []string {
	conn, err := g.connectors.Connector(ctx, bucket)
	if err != nil {
		g.logger.Error("Failed to get connector", "bucket", bucket, "error", err)
		return []string{}
	}
	keys, err := conn.List(ctx, prefix)
	if err != nil {
		g.logger.Error("Failed to list objects", "bucket", bucket, "prefix", prefix, "error", err)
		return []string{}
	}
	if keys == nil {
		return []string{}
	}
	return keys
}

// Copy copies srcBucket/srcKey to dstBucket/dstKey.
func (g *Gateway) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (CopyResult, error) {
	res := CopyResult{
		Source:      fmt.Sprintf("%s/%s", srcBucket, srcKey),
		Destination: fmt.Sprintf("%s/%s", dstBucket, dstKey),
	}
	conn, err := g.connectors.Connector(ctx, srcBucket)
	if err != nil {
		return res, err
	}
	if err := conn.CopyTo(ctx, srcKey, dstBucket, dstKey); err != nil {
		g.logger.Error("Failed to copy object", "src", res.Source, "dst", res.Destination, "error", err)
		return res, fmt.Errorf("failed to copy %s to %s: %w", res.Source, res.Destination, err)
	}
	g.logger.Info("Copied object", "src", res.Source, "dst", res.Destination)
	return res, nil
}

// WriteJSON serializes value to bucket/key. When value has an "output" field
// holding an object, only that object is written.
func (g *Gateway) WriteJSON(ctx context.Context, bucket, key string, value any) (WriteResult, error) {
	res := WriteResult{Status: "success", Key: key}

	body, err := marshalUnwrapped(value)
	if err == nil {
		var conn Connector
		conn, err = g.connectors.Connector(ctx, bucket)
		if err == nil {
			err = conn.Put(ctx, key, bytes.NewReader(body), jsonContentType)
		}
	}
	if err != nil {
		g.logger.Error("Failed to write JSON", "bucket", bucket, "key", key, "error", err)
		res.Status = "error"
		res.Error = err.Error()
		return res, fmt.Errorf("failed to write JSON to gs://%s/%s: %w", bucket, key, err)
	}
	return res, nil
}

// ReadJSON decodes bucket/key into v. It reports false on any read or decode
// failure; failures are logged, never returned.
func (g *Gateway) ReadJSON(ctx context.Context, bucket, key string, v any) bool {
	data, ok := g.Get(ctx, bucket, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		g.logger.Error("Failed to decode JSON object", "bucket", bucket, "key", key, "error", err)
		return false
	}
	return true
}

func marshalUnwrapped(value any) ([]byte, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var envelope map[string]json.RawMessage
	if json.Unmarshal(body, &envelope) != nil {
		return body, nil
	}
	if inner, ok := envelope["output"]; ok {
		trimmed := bytes.TrimSpace(inner)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return trimmed, nil
		}
	}
	return body, nil
}
