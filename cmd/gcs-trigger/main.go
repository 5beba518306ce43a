package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentworkflow/internal/gcp"
	"github.com/Lllllllleong/documentworkflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

const functionName = "TriggerFileProcessing"

var (
	trigger     *services.IngestTrigger
	triggerOnce sync.Once
	triggerErr  error
)

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler).With(
		"function", functionName,
		"projectId", gcp.GetEnv("PROJECT_ID", ""),
		"workflowId", gcp.GetEnv("WORKFLOW_ID", "file-processor-submit"),
	))

	functions.CloudEvent(functionName, triggerFileProcessing)
}

// main is required by the Go Functions Framework.
func main() {}

// triggerFileProcessing hands every finalized raw-bucket object to the file
// processor through a Cloud Workflows execution. Clients are built on the
// first event.
func triggerFileProcessing(ctx context.Context, e cloudevents.Event) error {
	triggerOnce.Do(func() {
		trigger, triggerErr = services.NewIngestTrigger(context.Background())
	})
	if triggerErr != nil {
		slog.Error("Ingest trigger is not configured", "error", triggerErr, "eventId", e.ID())
		return triggerErr
	}
	return trigger.HandleEvent(ctx, e)
}
