// Package workflow runs the ordered steps of a workflow for one file.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
	"github.com/Lllllllleong/documentworkflow/internal/telemetry"
)

// RunStatus is the state of a workflow run.
type RunStatus string

const (
	StatusNotStarted RunStatus = "NOT_STARTED"
	StatusRunning    RunStatus = statusstore.StatusProcessing
	StatusCompleted  RunStatus = statusstore.StatusCompleted
	StatusFailed     RunStatus = statusstore.StatusFailed
	StatusCancelled  RunStatus = statusstore.StatusCancelled
)

// Result codes reported to the backend with session and step outcomes.
const (
	codeSuccess   = 200
	codeFailed    = 400
	codeCancelled = 499
)

type Extractor interface {
	Extract(ctx context.Context, t models.TrackingContext) (models.FileRecord, error)
}

type StepExecutor interface {
	ExecuteStep(ctx context.Context, proc steps.Processor, sctx *steps.Context, step models.WorkflowStep) (models.StepOutput, error)
}

// Backend is the workflow backend as seen by the runner.
type Backend interface {
	GetWorkflowFilter(ctx context.Context, query models.WorkflowFilterQuery) (*models.WorkflowFilter, error)
	ValidateFilter(filter *models.WorkflowFilter) error
	StartSession(ctx context.Context, req models.WorkflowSessionStartRequest) (*models.WorkflowSessionStartResponse, error)
	FinishSession(ctx context.Context, req models.WorkflowSessionFinishRequest) error
	StartStep(ctx context.Context, req models.WorkflowStepStartRequest) (*models.WorkflowStepStartResponse, error)
	FinishStep(ctx context.Context, req models.WorkflowStepFinishRequest) error
}

// StatusStore receives the run and step statuses read by the gateway.
type StatusStore interface {
	SetWorkflow(ctx context.Context, taskID string, state statusstore.WorkflowState) error
	SetWorkflowStatus(ctx context.Context, taskID, status string) error
	SetStepStatus(ctx context.Context, taskID, stepName, status string) error
	SetStepID(ctx context.Context, taskID, stepName, historyID string) error
}

// SessionRecorder keeps the durable audit record of a request.
type SessionRecorder interface {
	Start(ctx context.Context, session models.RequestSession) error
	Finish(ctx context.Context, requestID, status, failedStep, errorDetails string) error
}

// Result summarizes a finished run.
type Result struct {
	Status     RunStatus
	FailedStep string
	Message    string
	Outputs    map[string]models.StepOutput
	Context    *steps.Context
}

type Runner struct {
	executor  StepExecutor
	processor steps.Processor
	extractor Extractor
	backend   Backend
	status    StatusStore
	recorder  SessionRecorder
	metrics   *telemetry.StepMetrics
	logger    *slog.Logger
}

type Option func(*Runner)

// WithRecorder enables the request audit trail.
func WithRecorder(recorder SessionRecorder) Option {
	return func(r *Runner) { r.recorder = recorder }
}

func WithMetrics(metrics *telemetry.StepMetrics) Option {
	return func(r *Runner) { r.metrics = metrics }
}

func NewRunner(executor StepExecutor, processor steps.Processor, extractor Extractor, backend Backend, status StatusStore, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		executor:  executor,
		processor: processor,
		extractor: extractor,
		backend:   backend,
		status:    status,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run carries the per-run bookkeeping.
type run struct {
	*Runner
	logCtx    *slog.Logger
	taskID    string
	sessionID string
	result    *Result
}

// Run resolves the file and its workflow, then executes the steps strictly in
// stepOrder. A FAILED or NOT_DEFINED step aborts the run. Errors returned by a
// step implementation are returned unchanged after the run is finalized as
// FAILED; extraction and workflow lookup errors are returned before any step.
func (r *Runner) Run(ctx context.Context, tracking models.TrackingContext) (*Result, error) {
	logCtx := r.logger.With("requestId", tracking.RequestID, "filePath", tracking.FilePath)
	logCtx.Info("Starting workflow run.", "rerunAttempt", tracking.Attempt())

	file, err := r.extractor.Extract(ctx, tracking)
	if err != nil {
		logCtx.Error("Failed to extract file metadata", "error", err)
		return nil, fmt.Errorf("failed to extract file metadata: %w", err)
	}

	filter, err := r.backend.GetWorkflowFilter(ctx, models.WorkflowFilterQuery{
		Project:       tracking.ProjectName,
		FileName:      file.FileName,
		FileExtension: file.FileExtension,
		Source:        tracking.SourceName,
		FilePath:      tracking.FilePath,
	})
	if err != nil {
		logCtx.Error("Failed to fetch workflow", "error", err)
		return nil, fmt.Errorf("failed to fetch workflow for %s: %w", tracking.FilePath, err)
	}

	tracking.WorkflowID = filter.WorkflowID
	tracking.WorkflowName = filter.Name
	tracking.DocumentType = string(file.DocumentType)
	file.FolderName = filter.FolderName
	file.CustomerFolderName = filter.CustomerFolderName

	sctx := steps.NewContext(tracking, file)
	sctx.Workflow = filter

	rn := &run{
		Runner: r,
		logCtx: logCtx.With("workflowId", filter.WorkflowID),
		taskID: tracking.RequestID,
		result: &Result{Status: StatusNotStarted, Outputs: make(map[string]models.StepOutput), Context: sctx},
	}
	if err := rn.start(ctx, tracking); err != nil {
		return nil, err
	}

	if err := r.backend.ValidateFilter(filter); err != nil {
		rn.finish(ctx, StatusFailed, "", err.Error())
		return rn.result, nil
	}

	ordered := append([]models.WorkflowStep(nil), filter.WorkflowSteps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StepOrder < ordered[j].StepOrder })

	for _, step := range ordered {
		if ctx.Err() != nil {
			rn.finish(ctx, StatusCancelled, step.StepName, "task was cancelled")
			return rn.result, nil
		}

		out, err := rn.executeStep(ctx, sctx, step)
		if err != nil {
			status := StatusFailed
			if errors.Is(err, context.Canceled) {
				status = StatusCancelled
			}
			rn.finish(ctx, status, step.StepName, err.Error())
			return rn.result, err
		}
		rn.result.Outputs[step.StepName] = out

		if !out.IsSuccess() {
			rn.finish(ctx, StatusFailed, step.StepName, out.FirstMessage())
			return rn.result, nil
		}
	}

	rn.finish(ctx, StatusCompleted, "", "")
	return rn.result, nil
}

func (rn *run) start(ctx context.Context, tracking models.TrackingContext) error {
	session, err := rn.backend.StartSession(ctx, models.WorkflowSessionStartRequest{
		WorkflowID: tracking.WorkflowID,
		CeleryID:   tracking.RequestID,
		FilePath:   tracking.FilePath,
	})
	if err != nil {
		rn.logCtx.Error("Failed to start workflow session", "error", err)
		return fmt.Errorf("failed to start workflow session: %w", err)
	}
	rn.sessionID = session.ID
	rn.result.Status = StatusRunning

	if err := rn.status.SetWorkflow(ctx, rn.taskID, statusstore.WorkflowState{
		WorkflowID: tracking.WorkflowID,
		SessionID:  session.ID,
		Status:     string(StatusRunning),
	}); err != nil {
		rn.logCtx.Warn("Failed to record workflow status", "error", err)
	}

	if rn.recorder != nil {
		if err := rn.recorder.Start(ctx, models.RequestSession{
			RequestID:    tracking.RequestID,
			FilePath:     tracking.FilePath,
			ProjectName:  tracking.ProjectName,
			WorkflowID:   tracking.WorkflowID,
			WorkflowName: tracking.WorkflowName,
			Status:       string(StatusRunning),
			RerunAttempt: tracking.Attempt(),
		}); err != nil {
			rn.logCtx.Warn("Failed to record request session", "error", err)
		}
	}

	rn.logCtx.Info("Workflow session started.", "sessionId", session.ID)
	return nil
}

func (rn *run) executeStep(ctx context.Context, sctx *steps.Context, step models.WorkflowStep) (models.StepOutput, error) {
	logCtx := rn.logCtx.With("stepName", step.StepName, "stepOrder", step.StepOrder)

	rn.setStepStatus(ctx, logCtx, step.StepName, models.StatusProcessing.String())
	historyID := ""
	if resp, err := rn.backend.StartStep(ctx, models.WorkflowStepStartRequest{SessionID: rn.sessionID, StepID: step.WorkflowStepID}); err != nil {
		logCtx.Warn("Failed to notify step start", "error", err)
	} else {
		historyID = resp.WorkflowHistoryID
		if err := rn.status.SetStepID(ctx, rn.taskID, step.StepName, historyID); err != nil {
			logCtx.Warn("Failed to record step id", "error", err)
		}
	}

	out, err := rn.executor.ExecuteStep(ctx, rn.processor, sctx, step)
	if err != nil {
		status, code := models.StatusFailed.String(), codeFailed
		if errors.Is(err, context.Canceled) {
			status, code = string(StatusCancelled), codeCancelled
		}
		rn.finishStep(ctx, logCtx, step.StepName, historyID, status, code, err.Error())
		return out, err
	}

	if out.IsSuccess() {
		rn.finishStep(ctx, logCtx, step.StepName, historyID, out.Status.String(), codeSuccess, "")
	} else {
		rn.finishStep(ctx, logCtx, step.StepName, historyID, out.Status.String(), codeFailed, out.FirstMessage())
	}
	return out, nil
}

func (rn *run) finishStep(ctx context.Context, logCtx *slog.Logger, stepName, historyID, status string, code int, message string) {
	ctx = context.WithoutCancel(ctx)
	rn.setStepStatus(ctx, logCtx, stepName, status)
	if historyID == "" {
		return
	}
	if err := rn.backend.FinishStep(ctx, models.WorkflowStepFinishRequest{
		WorkflowHistoryID: historyID,
		Status:            status,
		Code:              code,
		Message:           message,
	}); err != nil {
		logCtx.Warn("Failed to notify step finish", "error", err)
	}
}

func (rn *run) setStepStatus(ctx context.Context, logCtx *slog.Logger, stepName, status string) {
	if err := rn.status.SetStepStatus(ctx, rn.taskID, stepName, status); err != nil {
		logCtx.Warn("Failed to record step status", "status", status, "error", err)
	}
}

// finish records the terminal state. It runs even when ctx is cancelled.
func (rn *run) finish(ctx context.Context, status RunStatus, failedStep, message string) {
	ctx = context.WithoutCancel(ctx)
	rn.result.Status = status
	rn.result.FailedStep = failedStep
	rn.result.Message = message

	code := codeSuccess
	switch status {
	case StatusFailed:
		code = codeFailed
	case StatusCancelled:
		code = codeCancelled
	}

	if err := rn.status.SetWorkflowStatus(ctx, rn.taskID, string(status)); err != nil {
		rn.logCtx.Warn("Failed to record workflow status", "error", err)
	}
	if err := rn.backend.FinishSession(ctx, models.WorkflowSessionFinishRequest{
		ID:      rn.sessionID,
		Status:  string(status),
		Code:    code,
		Message: message,
	}); err != nil {
		rn.logCtx.Warn("Failed to finish workflow session", "error", err)
	}
	if rn.recorder != nil {
		if err := rn.recorder.Finish(ctx, rn.taskID, string(status), failedStep, message); err != nil {
			rn.logCtx.Warn("Failed to finish request session", "error", err)
		}
	}
	rn.metrics.RunFinished(string(status))

	if status == StatusCompleted {
		rn.logCtx.Info("Workflow run completed.")
		return
	}
	rn.logCtx.Error("Workflow run ended early.", "status", status, "failedStep", failedStep, "message", message)
}
