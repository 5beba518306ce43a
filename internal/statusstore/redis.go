// Package statusstore keeps the short-lived run state that the gateway reads
// back: workflow and step statuses per task, and the backend token.
package statusstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "docflow"
	tokenKey   = keyPrefix + ":backend:token"
	defaultTTL = 24 * time.Hour
)

// Run statuses recorded for a task.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

var ErrNotFound = errors.New("status not found")

type Options struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, opts Options) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// WorkflowState is the run-level record of one task.
type WorkflowState struct {
	WorkflowID string `json:"workflow_id"`
	SessionID  string `json:"session_id,omitempty"`
	Status     string `json:"status"`
}

type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore returns a store whose task records expire after ttl (24h when zero).
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func workflowKey(taskID string) string { return fmt.Sprintf("%s:task:%s:workflow", keyPrefix, taskID) }
func stepStatusKey(taskID string) string { return fmt.Sprintf("%s:task:%s:step_status", keyPrefix, taskID) }
func stepIDsKey(taskID string) string { return fmt.Sprintf("%s:task:%s:step_ids", keyPrefix, taskID) }

func (s *RedisStore) hset(ctx context.Context, key string, values ...any) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetWorkflow(ctx context.Context, taskID string, state WorkflowState) error {
	return s.hset(ctx, workflowKey(taskID),
		"workflow_id", state.WorkflowID,
		"session_id", state.SessionID,
		"status", state.Status,
	)
}

func (s *RedisStore) SetWorkflowStatus(ctx context.Context, taskID, status string) error {
	return s.hset(ctx, workflowKey(taskID), "status", status)
}

// GetWorkflow returns ErrNotFound when no run was recorded for the task.
func (s *RedisStore) GetWorkflow(ctx context.Context, taskID string) (WorkflowState, error) {
	fields, err := s.client.HGetAll(ctx, workflowKey(taskID)).Result()
	if err != nil {
		return WorkflowState{}, fmt.Errorf("failed to read workflow state: %w", err)
	}
	if fields["workflow_id"] == "" {
		return WorkflowState{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return WorkflowState{
		WorkflowID: fields["workflow_id"],
		SessionID:  fields["session_id"],
		Status:     fields["status"],
	}, nil
}

func (s *RedisStore) SetStepStatus(ctx context.Context, taskID, stepName, status string) error {
	return s.hset(ctx, stepStatusKey(taskID), stepName, status)
}

// SetStepID records the backend history id of a started step.
func (s *RedisStore) SetStepID(ctx context.Context, taskID, stepName, historyID string) error {
	return s.hset(ctx, stepIDsKey(taskID), stepName, historyID)
}

func (s *RedisStore) StepStatuses(ctx context.Context, taskID string) (map[string]string, error) {
	return s.hgetall(ctx, stepStatusKey(taskID))
}

func (s *RedisStore) StepIDs(ctx context.Context, taskID string) (map[string]string, error) {
	return s.hgetall(ctx, stepIDsKey(taskID))
}

func (s *RedisStore) hgetall(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return fields, nil
}

func (s *RedisStore) GetToken(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, tokenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read backend token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) SetToken(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, tokenKey, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache backend token: %w", err)
	}
	return nil
}
