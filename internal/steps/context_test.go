package steps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Namespaces(t *testing.T) {
	sctx := newTestContext(intPtr(3))

	v, ok := sctx.Get("request_id")
	require.True(t, ok)
	assert.Equal(t, "req-1", v)

	v, ok = sctx.Get("rerun_attempt")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = sctx.Get("document_type")
	require.True(t, ok)
	assert.Equal(t, models.DocumentTypeOrder, v)

	_, ok = sctx.Get("parsed_data")
	assert.False(t, ok)

	require.NoError(t, sctx.Set("parsed_data", 1))
	v, ok = sctx.Get("parsed_data")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, map[string]any{"parsed_data": 1}, sctx.Values())
}

func TestContext_ReadOnlyFields(t *testing.T) {
	sctx := newTestContext(nil)

	err := sctx.Set("request_id", "other")
	assert.ErrorIs(t, err, ErrReadOnlyKey)
	assert.Equal(t, "req-1", sctx.Tracking.RequestID)
}

func TestContext_DocumentNumber(t *testing.T) {
	sctx := newTestContext(nil)

	_, ok := sctx.Get(KeyDocumentNumber)
	assert.False(t, ok)

	require.NoError(t, sctx.Set(KeyDocumentNumber, 4500012))
	v, ok := sctx.Get(KeyDocumentNumber)
	require.True(t, ok)
	assert.Equal(t, "4500012", v)

	require.NoError(t, sctx.Set(KeyDocumentNumber, nil))
	_, ok = sctx.Get(KeyDocumentNumber)
	assert.False(t, ok)
}

func TestPending_Await(t *testing.T) {
	p := Go(context.Background(), func(context.Context) (any, error) { return "done", nil })

	v, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	v, err = p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestPending_AwaitCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := Go(context.Background(), func(context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Await(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
