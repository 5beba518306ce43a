package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

const taskIDMetadataKey = "task_id"

// Task is one queued file-processing request.
type Task struct {
	ID         string                    `json:"id"`
	Request    models.FileProcessRequest `json:"request"`
	EnqueuedAt time.Time                 `json:"enqueued_at"`
}

// Revocation asks the worker running a task to cancel it.
type Revocation struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Queue publishes tasks and revocations.
type Queue struct {
	publisher message.Publisher
	config    Config
	now       func() time.Time
}

func NewQueue(publisher message.Publisher, config Config) *Queue {
	config.SetDefaults()
	return &Queue{publisher: publisher, config: config, now: time.Now}
}

// Enqueue publishes req and returns its task id. The request id doubles as
// the task id; one is generated when the request has none.
func (q *Queue) Enqueue(ctx context.Context, req models.FileProcessRequest) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	task := Task{ID: req.RequestID, Request: req, EnqueuedAt: q.now().UTC()}

	if err := q.publish(ctx, q.config.TasksTopic, task.ID, task); err != nil {
		return "", fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return task.ID, nil
}

// Revoke publishes a revocation for taskID.
func (q *Queue) Revoke(ctx context.Context, taskID, reason string) error {
	if err := q.publish(ctx, q.config.RevokeTopic, taskID, Revocation{TaskID: taskID, Reason: reason}); err != nil {
		return fmt.Errorf("failed to revoke task %s: %w", taskID, err)
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, topic, taskID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(taskIDMetadataKey, taskID)
	msg.SetContext(ctx)

	return q.publisher.Publish(topic, msg)
}
