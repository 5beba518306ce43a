package taskqueue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/workflow"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 10,
			Persistent:          true,
		},
		watermill.NopLogger{},
	)
	t.Cleanup(func() { _ = pubSub.Close() })
	return pubSub
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingRunner reports every run; runs for ids in block wait for cancellation.
type recordingRunner struct {
	mu      sync.Mutex
	started chan models.TrackingContext
	ended   chan error
	block   map[string]bool
}

func newRecordingRunner(block ...string) *recordingRunner {
	r := &recordingRunner{
		started: make(chan models.TrackingContext, 10),
		ended:   make(chan error, 10),
		block:   map[string]bool{},
	}
	for _, id := range block {
		r.block[id] = true
	}
	return r
}

func (r *recordingRunner) Run(ctx context.Context, tracking models.TrackingContext) (*workflow.Result, error) {
	r.started <- tracking
	r.mu.Lock()
	block := r.block[tracking.RequestID]
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		r.ended <- ctx.Err()
		return &workflow.Result{Status: workflow.StatusCancelled}, ctx.Err()
	}
	r.ended <- nil
	return &workflow.Result{Status: workflow.StatusCompleted}, nil
}

func (w *Worker) isRunning(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[taskID]
	return ok
}

func (w *Worker) isRevoked(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.revoked[taskID]
	return ok
}

func startWorker(t *testing.T, pubSub *gochannel.GoChannel, runner TaskRunner) *Worker {
	t.Helper()
	w := NewWorker(pubSub, pubSub, runner, Config{Concurrency: 2}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return w
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the worker")
	}
	var zero T
	return zero
}

func TestQueue_EnqueuePublishesTask(t *testing.T) {
	pubSub := newTestChannel(t)
	q := NewQueue(pubSub, Config{})

	id, err := q.Enqueue(context.Background(), models.FileProcessRequest{FilePath: "DKSH_TW/order/a.csv", Project: "DKSH_TW", Source: "sftp"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages, err := pubSub.Subscribe(context.Background(), DefaultTasksTopic)
	require.NoError(t, err)
	msg := receive(t, messages)
	msg.Ack()

	var task Task
	require.NoError(t, json.Unmarshal(msg.Payload, &task))
	assert.Equal(t, id, task.ID)
	assert.Equal(t, id, task.Request.RequestID)
	assert.Equal(t, "DKSH_TW/order/a.csv", task.Request.FilePath)
	assert.Equal(t, id, msg.Metadata.Get(taskIDMetadataKey))
}

func TestQueue_EnqueueKeepsRequestID(t *testing.T) {
	pubSub := newTestChannel(t)
	q := NewQueue(pubSub, Config{})

	id, err := q.Enqueue(context.Background(), models.FileProcessRequest{FilePath: "a.csv", RequestID: "req-7"})
	require.NoError(t, err)
	assert.Equal(t, "req-7", id)
}

func TestWorker_RunsTask(t *testing.T) {
	pubSub := newTestChannel(t)
	runner := newRecordingRunner()
	startWorker(t, pubSub, runner)

	attempt := 2
	q := NewQueue(pubSub, Config{})
	_, err := q.Enqueue(context.Background(), models.FileProcessRequest{
		FilePath:     "DKSH_TW/order/a.csv",
		Project:      "DKSH_TW",
		Source:       "sftp",
		RerunAttempt: &attempt,
		RequestID:    "req-1",
	})
	require.NoError(t, err)

	tracking := receive(t, runner.started)
	assert.Equal(t, "req-1", tracking.RequestID)
	assert.Equal(t, "DKSH_TW", tracking.ProjectName)
	assert.Equal(t, "sftp", tracking.SourceName)
	assert.Equal(t, models.SourceTypeGCS, tracking.SourceType)
	assert.Equal(t, 2, tracking.Attempt())
	assert.NoError(t, receive(t, runner.ended))
}

func TestWorker_RevokeCancelsRunningTask(t *testing.T) {
	pubSub := newTestChannel(t)
	runner := newRecordingRunner("req-1")
	w := startWorker(t, pubSub, runner)

	q := NewQueue(pubSub, Config{})
	_, err := q.Enqueue(context.Background(), models.FileProcessRequest{FilePath: "a.csv", RequestID: "req-1"})
	require.NoError(t, err)
	receive(t, runner.started)
	require.Eventually(t, func() bool { return w.isRunning("req-1") }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, q.Revoke(context.Background(), "req-1", "user request"))
	assert.ErrorIs(t, receive(t, runner.ended), context.Canceled)
	assert.Eventually(t, func() bool { return !w.isRunning("req-1") }, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_RevokedBeforeStartIsSkipped(t *testing.T) {
	pubSub := newTestChannel(t)
	runner := newRecordingRunner()
	w := startWorker(t, pubSub, runner)

	q := NewQueue(pubSub, Config{})
	require.NoError(t, q.Revoke(context.Background(), "req-1", "duplicate"))
	require.Eventually(t, func() bool { return w.isRevoked("req-1") }, 5*time.Second, 10*time.Millisecond)

	_, err := q.Enqueue(context.Background(), models.FileProcessRequest{FilePath: "a.csv", RequestID: "req-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), models.FileProcessRequest{FilePath: "b.csv", RequestID: "req-2"})
	require.NoError(t, err)

	tracking := receive(t, runner.started)
	assert.Equal(t, "req-2", tracking.RequestID)
	assert.False(t, w.isRevoked("req-1"))
}

func TestWorker_DropsMalformedTask(t *testing.T) {
	pubSub := newTestChannel(t)
	runner := newRecordingRunner()
	startWorker(t, pubSub, runner)

	require.NoError(t, pubSub.Publish(DefaultTasksTopic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	q := NewQueue(pubSub, Config{})
	_, err := q.Enqueue(context.Background(), models.FileProcessRequest{FilePath: "b.csv", RequestID: "req-2"})
	require.NoError(t, err)

	assert.Equal(t, "req-2", receive(t, runner.started).RequestID)
}

func TestWorker_ForgetsStaleRevocations(t *testing.T) {
	w := NewWorker(nil, nil, newRecordingRunner(), Config{}, discardLogger())
	now := time.Date(2025, 7, 8, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.revoke(Revocation{TaskID: "old"})
	now = now.Add(2 * revokedRetention)
	w.revoke(Revocation{TaskID: "new"})

	assert.False(t, w.isRevoked("old"))
	assert.True(t, w.isRevoked("new"))
}

func TestOpen(t *testing.T) {
	channels, err := Open(Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, channels.Publisher, channels.Tasks)
	assert.NoError(t, channels.Close())

	_, err = Open(Config{Provider: ProviderKafka}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "brokers")

	_, err = Open(Config{Provider: "sqs"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "unsupported queue provider")
}
