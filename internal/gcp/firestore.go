package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentworkflow/internal/models"
)

// RequestSessionCollection holds one document per file-processing request.
const RequestSessionCollection = "RequestSession"

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreSessionRecorder keeps the RequestSession audit trail.
type FirestoreSessionRecorder struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreSessionRecorder(client *firestore.Client) *FirestoreSessionRecorder {
	return &FirestoreSessionRecorder{client: client, now: time.Now}
}

// Start creates or overwrites the session document for the request.
func (r *FirestoreSessionRecorder) Start(ctx context.Context, session models.RequestSession) error {
	now := r.now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if _, err := r.client.Collection(RequestSessionCollection).Doc(session.RequestID).Set(ctx, session); err != nil {
		return fmt.Errorf("failed to record request session %s: %w", session.RequestID, err)
	}
	return nil
}

// Finish updates the final status of the session.
func (r *FirestoreSessionRecorder) Finish(ctx context.Context, requestID, status, failedStep, errorDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "updatedAt", Value: r.now()},
	}
	if failedStep != "" {
		updates = append(updates, firestore.Update{Path: "failedStep", Value: failedStep})
	}
	if errorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errorDetails})
	}

	if _, err := r.client.Collection(RequestSessionCollection).Doc(requestID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to finish request session %s: %w", requestID, err)
	}
	return nil
}

// FirestoreIngestLedger stores one IngestedFile document per accepted object.
type FirestoreIngestLedger struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreIngestLedger(client *firestore.Client, collection string) *FirestoreIngestLedger {
	return &FirestoreIngestLedger{client: client, collection: collection}
}

// Seen reports whether a file with the same hash was already ingested.
func (l *FirestoreIngestLedger) Seen(ctx context.Context, fileHash string) (bool, string, error) {
	docs, err := l.client.Collection(l.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return true, docs[0].Ref.ID, nil
	}
	return false, "", nil
}

func (l *FirestoreIngestLedger) Record(ctx context.Context, file models.IngestedFile) (string, error) {
	docRef, _, err := l.client.Collection(l.collection).Add(ctx, file)
	if err != nil {
		return "", fmt.Errorf("failed to create ingest document: %w", err)
	}
	return docRef.ID, nil
}

// MarkTriggered records the workflow execution started for the document.
func (l *FirestoreIngestLedger) MarkTriggered(ctx context.Context, id, executionName string) error {
	return l.update(ctx, id, []firestore.Update{
		{Path: "status", Value: IngestStatusTriggered},
		{Path: "executionId", Value: executionName},
	})
}

func (l *FirestoreIngestLedger) MarkFailed(ctx context.Context, id, details string) error {
	return l.update(ctx, id, []firestore.Update{
		{Path: "status", Value: IngestStatusFailed},
		{Path: "errorDetails", Value: details},
	})
}

func (l *FirestoreIngestLedger) update(ctx context.Context, id string, updates []firestore.Update) error {
	if _, err := l.client.Collection(l.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update ingest document %s: %w", id, err)
	}
	return nil
}

// Ingest document statuses.
const (
	IngestStatusReceived  = "RECEIVED"
	IngestStatusTriggered = "TRIGGERED"
	IngestStatusFailed    = "FAILED"
)
