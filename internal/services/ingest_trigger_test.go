package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type ledgerMock struct {
	mock.Mock
}

func (m *ledgerMock) Seen(ctx context.Context, fileHash string) (bool, string, error) {
	args := m.Called(ctx, fileHash)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *ledgerMock) Record(ctx context.Context, file models.IngestedFile) (string, error) {
	args := m.Called(ctx, file)
	return args.String(0), args.Error(1)
}

func (m *ledgerMock) MarkTriggered(ctx context.Context, id, executionName string) error {
	return m.Called(ctx, id, executionName).Error(0)
}

func (m *ledgerMock) MarkFailed(ctx context.Context, id, details string) error {
	return m.Called(ctx, id, details).Error(0)
}

type starterMock struct {
	mock.Mock
}

func (m *starterMock) CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, _ ...gax.CallOption) (*executionspb.Execution, error) {
	args := m.Called(ctx, req)
	exec, _ := args.Get(0).(*executionspb.Execution)
	return exec, args.Error(1)
}

func newTestTrigger(t *testing.T) (*IngestTrigger, *objectstore.MemoryStore, *ledgerMock, *starterMock) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	gateway := objectstore.NewGateway(objectstore.NewConnectorCache(store.Factory()), discardLogger())
	ledger, starter := new(ledgerMock), new(starterMock)

	trigger := NewIngestTriggerWith(gateway, ledger, starter, IngestTriggerConfig{
		ProjectID:        "gcp-project",
		WorkflowID:       "file-processor-submit",
		WorkflowLocation: "asia-southeast1",
		Project:          "DKSH_TW",
		Source:           "sftp",
		SupportTypes:     []string{".csv", "pdf"},
	})
	return trigger, store, ledger, starter
}

func TestIngestTrigger_StartsExecution(t *testing.T) {
	trigger, store, ledger, starter := newTestTrigger(t)
	store.Seed("raw", "DKSH_TW/order/po.csv", []byte("a,b\n1,2\n"))

	ledger.On("Seen", mock.Anything, mock.AnythingOfType("string")).Return(false, "", nil)
	ledger.On("Record", mock.Anything, mock.MatchedBy(func(f models.IngestedFile) bool {
		return f.Bucket == "raw" && f.ObjectName == "DKSH_TW/order/po.csv" && len(f.FileHash) == 64
	})).Return("doc-1", nil)
	starter.On("CreateExecution", mock.Anything, mock.Anything).
		Return(&executionspb.Execution{Name: "executions/1"}, nil)
	ledger.On("MarkTriggered", mock.Anything, "doc-1", "executions/1").Return(nil)

	require.NoError(t, trigger.Process(context.Background(), GCSEvent{Bucket: "raw", Name: "DKSH_TW/order/po.csv"}))

	req := starter.Calls[0].Arguments.Get(1).(*executionspb.CreateExecutionRequest)
	assert.Equal(t, "projects/gcp-project/locations/asia-southeast1/workflows/file-processor-submit", req.Parent)

	var payload models.FileProcessRequest
	require.NoError(t, json.Unmarshal([]byte(req.Execution.Argument), &payload))
	assert.Equal(t, models.FileProcessRequest{
		FilePath:   "DKSH_TW/order/po.csv",
		Project:    "DKSH_TW",
		Source:     "sftp",
		SourceType: "gcs",
	}, payload)
	ledger.AssertExpectations(t)
}

func TestIngestTrigger_SkipsDuplicates(t *testing.T) {
	trigger, store, ledger, starter := newTestTrigger(t)
	store.Seed("raw", "po.pdf", []byte("%PDF"))
	ledger.On("Seen", mock.Anything, mock.Anything).Return(true, "doc-0", nil)

	require.NoError(t, trigger.Process(context.Background(), GCSEvent{Bucket: "raw", Name: "po.pdf"}))
	starter.AssertNotCalled(t, "CreateExecution", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestIngestTrigger_SkipsUnsupportedObjects(t *testing.T) {
	trigger, _, ledger, _ := newTestTrigger(t)

	for _, name := range []string{"folder/", "notes.docx", ""} {
		require.NoError(t, trigger.Process(context.Background(), GCSEvent{Bucket: "raw", Name: name}))
	}
	ledger.AssertNotCalled(t, "Seen", mock.Anything, mock.Anything)
}

func TestIngestTrigger_ExecutionFailureMarksDocument(t *testing.T) {
	trigger, store, ledger, starter := newTestTrigger(t)
	store.Seed("raw", "po.csv", []byte("a\n"))

	ledger.On("Seen", mock.Anything, mock.Anything).Return(false, "", nil)
	ledger.On("Record", mock.Anything, mock.Anything).Return("doc-1", nil)
	starter.On("CreateExecution", mock.Anything, mock.Anything).Return(nil, errors.New("permission denied"))
	ledger.On("MarkFailed", mock.Anything, "doc-1", mock.MatchedBy(func(s string) bool {
		return s == "failed to trigger workflow execution: permission denied"
	})).Return(nil)

	err := trigger.Process(context.Background(), GCSEvent{Bucket: "raw", Name: "po.csv"})
	assert.ErrorContains(t, err, "permission denied")
	ledger.AssertExpectations(t)
}

func TestIngestTrigger_MissingObject(t *testing.T) {
	trigger, _, _, _ := newTestTrigger(t)

	err := trigger.Process(context.Background(), GCSEvent{Bucket: "raw", Name: "gone.csv"})
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func storageEvent(t *testing.T, eventType string, data any) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("//storage.googleapis.com/projects/_/buckets/raw")
	e.SetType(eventType)
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, data))
	return e
}

func TestIngestTrigger_HandleEvent(t *testing.T) {
	t.Run("finalize event reaches the object", func(t *testing.T) {
		trigger, _, ledger, starter := newTestTrigger(t)

		err := trigger.HandleEvent(context.Background(), storageEvent(t, FinalizedEventType, GCSEvent{Bucket: "raw", Name: "DKSH_TW/order/missing.csv"}))
		assert.ErrorIs(t, err, objectstore.ErrNotFound)
		assert.ErrorContains(t, err, "gs://raw/DKSH_TW/order/missing.csv")
		ledger.AssertNotCalled(t, "Seen", mock.Anything, mock.Anything)
		starter.AssertNotCalled(t, "CreateExecution", mock.Anything, mock.Anything)
	})

	t.Run("other event types are ignored", func(t *testing.T) {
		trigger, store, ledger, _ := newTestTrigger(t)
		store.Seed("raw", "DKSH_TW/order/po.csv", []byte("a,b\n"))

		err := trigger.HandleEvent(context.Background(), storageEvent(t, "google.cloud.storage.object.v1.deleted", GCSEvent{Bucket: "raw", Name: "DKSH_TW/order/po.csv"}))
		require.NoError(t, err)
		ledger.AssertNotCalled(t, "Seen", mock.Anything, mock.Anything)
	})

	t.Run("malformed payload", func(t *testing.T) {
		trigger, _, _, _ := newTestTrigger(t)

		err := trigger.HandleEvent(context.Background(), storageEvent(t, FinalizedEventType, json.RawMessage(`["not","an","object"]`)))
		assert.ErrorContains(t, err, "json.Unmarshal")
	})
}
