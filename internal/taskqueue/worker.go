package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/workflow"
	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/semaphore"
)

// revokedRetention bounds how long a revocation for a task this worker never
// saw is remembered.
const revokedRetention = time.Hour

// TaskRunner executes one tracked request.
type TaskRunner interface {
	Run(ctx context.Context, tracking models.TrackingContext) (*workflow.Result, error)
}

// Worker consumes tasks and runs them with bounded concurrency. Each running
// task gets its own cancelable context so a revocation stops only that task.
type Worker struct {
	tasks       message.Subscriber
	revocations message.Subscriber
	runner      TaskRunner
	config      Config
	sem         *semaphore.Weighted
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	revoked map[string]revocation
	wg      sync.WaitGroup
	now     func() time.Time
}

type revocation struct {
	reason string
	at     time.Time
}

func NewWorker(tasks, revocations message.Subscriber, runner TaskRunner, config Config, logger *slog.Logger) *Worker {
	config.SetDefaults()
	return &Worker{
		tasks:       tasks,
		revocations: revocations,
		runner:      runner,
		config:      config,
		sem:         semaphore.NewWeighted(int64(config.Concurrency)),
		logger:      logger,
		running:     make(map[string]context.CancelFunc),
		revoked:     make(map[string]revocation),
		now:         time.Now,
	}
}

// Run consumes until ctx is done, then waits for in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	revocations, err := w.revocations.Subscribe(ctx, w.config.RevokeTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.config.RevokeTopic, err)
	}
	tasks, err := w.tasks.Subscribe(ctx, w.config.TasksTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.config.TasksTopic, err)
	}

	go w.consumeRevocations(revocations)

	w.logger.Info("Worker started.", "topic", w.config.TasksTopic, "concurrency", w.config.Concurrency)
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping.")
			return nil
		case msg, ok := <-tasks:
			if !ok {
				return nil
			}
			if err := w.sem.Acquire(ctx, 1); err != nil {
				msg.Nack()
				return nil
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer w.sem.Release(1)
				w.handle(ctx, msg)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *message.Message) {
	var task Task
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		w.logger.Error("Dropping malformed task", "messageId", msg.UUID, "error", err)
		msg.Ack()
		return
	}
	msg.Ack()

	logCtx := w.logger.With("taskId", task.ID, "filePath", task.Request.FilePath)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if reason, revoked := w.start(task.ID, cancel); revoked {
		logCtx.Warn("Skipping revoked task.", "reason", reason)
		return
	}
	defer w.done(task.ID)

	res, err := w.runner.Run(taskCtx, models.TrackingFromRequest(task.Request))
	switch {
	case errors.Is(err, context.Canceled):
		logCtx.Warn("Task cancelled.")
	case err != nil:
		logCtx.Error("Task failed", "error", err)
	default:
		logCtx.Info("Task finished.", "status", res.Status, "failedStep", res.FailedStep)
	}
}

// start registers a running task unless it was revoked before it started.
func (w *Worker) start(taskID string, cancel context.CancelFunc) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rev, ok := w.revoked[taskID]; ok {
		delete(w.revoked, taskID)
		return rev.reason, true
	}
	w.running[taskID] = cancel
	return "", false
}

func (w *Worker) done(taskID string) {
	w.mu.Lock()
	delete(w.running, taskID)
	w.mu.Unlock()
}

func (w *Worker) consumeRevocations(messages <-chan *message.Message) {
	for msg := range messages {
		var rev Revocation
		if err := json.Unmarshal(msg.Payload, &rev); err != nil || rev.TaskID == "" {
			w.logger.Error("Dropping malformed revocation", "messageId", msg.UUID, "error", err)
			msg.Ack()
			continue
		}
		msg.Ack()
		w.revoke(rev)
	}
}

// revoke cancels the task if it runs here; otherwise it is remembered so
// the task is skipped if it is delivered later.
func (w *Worker) revoke(rev Revocation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.running[rev.TaskID]; ok {
		w.logger.Info("Cancelling task.", "taskId", rev.TaskID, "reason", rev.Reason)
		cancel()
		return
	}

	now := w.now()
	for id, r := range w.revoked {
		if now.Sub(r.at) > revokedRetention {
			delete(w.revoked, id)
		}
	}
	w.revoked[rev.TaskID] = revocation{reason: rev.Reason, at: now}
}
