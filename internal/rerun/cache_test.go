package rerun

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type folder string

func (f folder) TargetFolder() string { return string(f) }

func TestSelectLatestRerun(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		expected string
		found    bool
	}{
		{
			name:     "highest rerun wins",
			keys:     []string{"p/base.json", "p/base_rerun_1.json", "p/base_rerun_3.json", "p/base_rerun_2.json"},
			expected: "p/base_rerun_3.json",
			found:    true,
		},
		{
			name:     "numeric not lexical",
			keys:     []string{"p/base_rerun_9.json", "p/base_rerun_10.json"},
			expected: "p/base_rerun_10.json",
			found:    true,
		},
		{
			name:     "base only",
			keys:     []string{"p/base.json"},
			expected: "p/base.json",
			found:    true,
		},
		{
			name:     "other stems ignored",
			keys:     []string{"p/other_rerun_4.json", "p/base.json"},
			expected: "p/base.json",
			found:    true,
		},
		{name: "empty", keys: nil},
		{name: "no match", keys: []string{"p/other.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectLatestRerun(tt.keys, "base")
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReusable(t *testing.T) {
	assert.False(t, Reusable(nil))
	assert.True(t, Reusable(&Prior{}))
	assert.True(t, Reusable(&Prior{Status: models.StatusSuccess}))
	assert.False(t, Reusable(&Prior{Status: models.StatusFailed}))
}

func newCache(store *objectstore.MemoryStore) *Cache {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := objectstore.NewGateway(objectstore.NewConnectorCache(store.Factory()), logger)
	return NewCache(gw, logger).WithClock(func() time.Time {
		return time.Date(2025, 7, 8, 10, 0, 0, 0, time.UTC)
	})
}

func lookup(attempt int) Lookup {
	return Lookup{
		RequestID: "req-1",
		File: models.FileRecord{
			FileNameWoExt:      "base",
			FolderName:         "orders",
			CustomerFolderName: "acme",
			TargetBucketName:   "target",
		},
		Step:         models.WorkflowStep{StepName: "FILE_PARSE", StepOrder: 1},
		StepConfig:   folder("out"),
		RerunAttempt: attempt,
	}
}

const prefix = "out/orders/acme/20250708/req-1/01_FILE_PARSE/"

func TestLoadPriorStepResult(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.Seed("target", prefix+"base.json", []byte(`{"original_file_path":"a.csv","items":[],"po_number":"PO-0","step_status":"1"}`))
	store.Seed("target", prefix+"base_rerun_2.json", []byte(`{"original_file_path":"a.csv","items":[],"po_number":"PO-2","step_status":"1"}`))

	prior := newCache(store).LoadPriorStepResult(context.Background(), lookup(3))
	require.NotNil(t, prior)
	assert.Equal(t, prefix+"base_rerun_2.json", prior.Key)
	assert.Equal(t, models.StatusSuccess, prior.Status)

	doc, ok := prior.Output.(*models.ParsedDocument)
	require.True(t, ok)
	assert.Equal(t, "PO-2", doc.PONumber)
	assert.Equal(t, prefix+"base_rerun_2.json", doc.JSONOutput)
}

func TestLoadPriorStepResult_ArtifactShapes(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		status   models.StepStatus
		expected any
	}{
		{"plain object", `{"total":3}`, "", map[string]any{"total": float64(3)}},
		{"object with its own output field", `{"output":5}`, "", map[string]any{"output": float64(5)}},
		{"scalar envelope", `{"output":true,"step_status":"1"}`, models.StatusSuccess, true},
		{"array envelope", `{"output":["a","b"],"step_status":"1"}`, models.StatusSuccess, []any{"a", "b"}},
		{"null envelope", `{"output":null,"step_status":"1"}`, models.StatusSuccess, nil},
		{"bare array", `[1,2]`, "", []any{float64(1), float64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := objectstore.NewMemoryStore()
			store.Seed("target", prefix+"base.json", []byte(tt.stored))

			prior := newCache(store).LoadPriorStepResult(context.Background(), lookup(2))
			require.NotNil(t, prior)
			assert.Equal(t, tt.status, prior.Status)
			assert.Equal(t, tt.expected, prior.Output)
			assert.True(t, Reusable(prior))
		})
	}
}

func TestLoadPriorStepResult_RoundTripsWrittenOutputs(t *testing.T) {
	tests := []struct {
		name     string
		output   any
		expected any
	}{
		{"object", map[string]any{"total": 3}, map[string]any{"total": float64(3)}},
		{"scalar", true, true},
		{"array", []any{"x", 2}, []any{"x", float64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := objectstore.NewMemoryStore()
			cache := newCache(store)
			_, err := cache.gateway.WriteJSON(context.Background(), "target", prefix+"base.json", models.Succeeded(tt.output))
			require.NoError(t, err)

			prior := cache.LoadPriorStepResult(context.Background(), lookup(2))
			require.NotNil(t, prior)
			assert.Equal(t, tt.expected, prior.Output)
			assert.True(t, Reusable(prior))
		})
	}

	t.Run("document", func(t *testing.T) {
		store := objectstore.NewMemoryStore()
		cache := newCache(store)
		written := &models.ParsedDocument{OriginalFilePath: "a.csv", PONumber: "PO-9", StepStatus: models.StatusSuccess}
		_, err := cache.gateway.WriteJSON(context.Background(), "target", prefix+"base.json", models.Succeeded(written))
		require.NoError(t, err)

		prior := cache.LoadPriorStepResult(context.Background(), lookup(2))
		require.NotNil(t, prior)
		doc, ok := prior.Output.(*models.ParsedDocument)
		require.True(t, ok)
		assert.Equal(t, "PO-9", doc.PONumber)
		assert.Equal(t, models.StatusSuccess, prior.Status)
	})
}

func TestLoadPriorStepResult_OriginalRunHasNoPrior(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.Seed("target", prefix+"base.json", []byte(`{"step_status":"1"}`))
	cache := newCache(store)

	assert.Nil(t, cache.LoadPriorStepResult(context.Background(), lookup(0)))
	assert.Nil(t, cache.LoadPriorStepResult(context.Background(), lookup(1)))
}

func TestLoadPriorStepResult_ReturnsFailedArtifact(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.Seed("target", prefix+"base.json", []byte(`{"original_file_path":"a.csv","items":null,"step_status":"2","messages":["bad row"]}`))

	prior := newCache(store).LoadPriorStepResult(context.Background(), lookup(2))
	require.NotNil(t, prior)
	assert.Equal(t, models.StatusFailed, prior.Status)
	assert.False(t, Reusable(prior))

	doc, ok := prior.Output.(*models.ParsedDocument)
	require.True(t, ok)
	assert.Equal(t, []string{"bad row"}, doc.Messages)
}

func TestLoadPriorStepResult_Misses(t *testing.T) {
	t.Run("nothing stored", func(t *testing.T) {
		assert.Nil(t, newCache(objectstore.NewMemoryStore()).LoadPriorStepResult(context.Background(), lookup(2)))
	})

	t.Run("corrupt artifact", func(t *testing.T) {
		store := objectstore.NewMemoryStore()
		store.Seed("target", prefix+"base_rerun_1.json", []byte(`{`))
		assert.Nil(t, newCache(store).LoadPriorStepResult(context.Background(), lookup(2)))
	})

	t.Run("missing step config", func(t *testing.T) {
		l := lookup(2)
		l.StepConfig = nil
		assert.Nil(t, newCache(objectstore.NewMemoryStore()).LoadPriorStepResult(context.Background(), l))
	})
}
