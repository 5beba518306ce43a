package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/documentworkflow/internal/gcp"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/googleapis/gax-go/v2"
)

// FinalizedEventType is the Cloud Storage event that carries a new object.
const FinalizedEventType = "google.cloud.storage.object.v1.finalized"

type IngestTriggerConfig struct {
	ProjectID        string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
	// Project and Source are forwarded to the file processor with every file.
	Project      string
	Source       string
	SupportTypes []string
}

// IngestLedger deduplicates raw objects by content hash.
type IngestLedger interface {
	Seen(ctx context.Context, fileHash string) (bool, string, error)
	Record(ctx context.Context, file models.IngestedFile) (string, error)
	MarkTriggered(ctx context.Context, id, executionName string) error
	MarkFailed(ctx context.Context, id, details string) error
}

// ExecutionStarter is the part of the Workflows executions client the trigger uses.
type ExecutionStarter interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// IngestTrigger reacts to new objects in a raw bucket by starting a workflow
// execution that submits the file for processing.
type IngestTrigger struct {
	gateway    *objectstore.Gateway
	ledger     IngestLedger
	executions ExecutionStarter
	config     IngestTriggerConfig
	now        func() time.Time
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func NewIngestTrigger(ctx context.Context) (*IngestTrigger, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := IngestTriggerConfig{
		ProjectID:        projectID,
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "ingested_files"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "file-processor-submit"),
		Project:          gcp.GetEnv("PROJECT_NAME", ""),
		Source:           gcp.GetEnv("SOURCE_NAME", "gcs"),
		SupportTypes:     strings.Split(gcp.GetEnv("SUPPORT_TYPES", ".csv,.txt,.pdf"), ","),
	}
	if config.Project == "" {
		return nil, fmt.Errorf("PROJECT_NAME environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	gateway := objectstore.NewGateway(
		objectstore.NewConnectorCache(gcp.NewStorageConnectorFactory(storageClient)),
		slog.Default(),
	)
	t := NewIngestTriggerWith(gateway, gcp.NewFirestoreIngestLedger(firestoreClient, config.CollectionName), executionsClient, config)
	slog.Info("Ingest trigger initialized.", "workflowId", config.WorkflowID)
	return t, nil
}

// NewIngestTriggerWith builds a trigger from already constructed collaborators.
func NewIngestTriggerWith(gateway *objectstore.Gateway, ledger IngestLedger, starter ExecutionStarter, config IngestTriggerConfig) *IngestTrigger {
	return &IngestTrigger{gateway: gateway, ledger: ledger, executions: starter, config: config, now: time.Now}
}

// HandleEvent decodes a Cloud Storage CloudEvent and processes the object it
// names. Other event types are acknowledged and ignored.
func (f *IngestTrigger) HandleEvent(ctx context.Context, e cloudevents.Event) error {
	logCtx := slog.With("eventId", e.ID(), "eventType", e.Type())
	if e.Type() != FinalizedEventType {
		logCtx.Info("Not an object finalize event. Skipping.")
		return nil
	}

	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		logCtx.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return f.Process(ctx, gcsEvent)
}

func (f *IngestTrigger) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if !f.accepts(e.Name) {
		logCtx.Info("Object is not a supported file. Skipping.")
		return nil
	}

	data, ok := f.gateway.Get(ctx, e.Bucket, e.Name)
	if !ok {
		return fmt.Errorf("failed to read gs://%s/%s: %w", e.Bucket, e.Name, objectstore.ErrNotFound)
	}
	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])
	logCtx = logCtx.With("fileHash", fileHash)

	isDuplicate, docID, err := f.ledger.Seen(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
		return nil
	}

	docID, err = f.ledger.Record(ctx, models.IngestedFile{
		FileHash:   fileHash,
		Bucket:     e.Bucket,
		ObjectName: e.Name,
		Status:     gcp.IngestStatusReceived,
		CreatedAt:  f.now(),
	})
	if err != nil {
		logCtx.Error("Failed to create ingest document", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", docID)

	execution, err := f.triggerWorkflow(ctx, e)
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to trigger workflow execution", err)
	}
	if err := f.ledger.MarkTriggered(ctx, docID, execution.GetName()); err != nil {
		logCtx.Warn("Failed to record workflow execution", "error", err)
	}

	logCtx.Info("Hand-off to workflow complete.", "execution", execution.GetName())
	return nil
}

func (f *IngestTrigger) accepts(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	for _, t := range f.config.SupportTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == ext || "."+t == ext {
			return true
		}
	}
	return false
}

func (f *IngestTrigger) triggerWorkflow(ctx context.Context, e GCSEvent) (*executionspb.Execution, error) {
	payload := models.FileProcessRequest{
		FilePath:   e.Name,
		Project:    f.config.Project,
		Source:     f.config.Source,
		SourceType: string(models.SourceTypeGCS),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	return f.executions.CreateExecution(ctx, req)
}

func (f *IngestTrigger) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.ledger.MarkFailed(ctx, docID, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
