package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const (
	stopSucceeded       = "Task stopped successfully"
	workflowNotFound    = "Workflow ID not found for task"
	cancelledStepStatus = statusstore.StatusCancelled
	cancelledCode       = 499
)

// TaskStatusResponse is the output of GET /tasks/:id/status.
type TaskStatusResponse struct {
	TaskID     string            `json:"task_id"`
	WorkflowID string            `json:"workflow_id"`
	Status     string            `json:"status"`
	Steps      map[string]string `json:"steps"`
}

// ProcessFile queues a file for processing and returns the task id.
func (a *API) ProcessFile(c fiber.Ctx) error {
	var req models.FileProcessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	taskID, err := a.queue.Enqueue(c.Context(), req)
	if err != nil {
		a.logger.Error("Failed to submit task", "filePath", req.FilePath, "error", err)
		return internalError(c, err)
	}

	a.logger.Info("Task submitted.", "taskId", taskID, "filePath", req.FilePath, "project", req.Project)
	return c.JSON(models.FileProcessResponse{FilePath: req.FilePath, TaskID: taskID})
}

// StopTask cancels a task: the backend run is stopped, steps still in
// progress are closed as CANCELLED and the worker is told to abort.
func (a *API) StopTask(c fiber.Ctx) error {
	if a.stopDisabled {
		return forbidden(c, "stopping tasks is disabled")
	}

	var req models.StopTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}
	if err := a.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	logCtx := a.logger.With("taskId", req.TaskID)

	state, err := a.status.GetWorkflow(c.Context(), req.TaskID)
	if errors.Is(err, statusstore.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": workflowNotFound})
	}
	if err == nil {
		err = a.stop(c.Context(), req, state)
	}
	if err != nil {
		logCtx.Error("Failed to stop task", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	logCtx.Info("Task stopped.", "workflowId", state.WorkflowID, "reason", req.Reason)
	return c.JSON(fiber.Map{"status": stopSucceeded})
}

func (a *API) stop(ctx context.Context, req models.StopTaskRequest, state statusstore.WorkflowState) error {
	if err := a.backend.StopWorkflow(ctx, models.WorkflowStopRequest{
		WorkflowID: state.WorkflowID,
		TaskID:     req.TaskID,
		Reason:     req.Reason,
	}); err != nil {
		return fmt.Errorf("failed to stop workflow %s: %w", state.WorkflowID, err)
	}

	statuses, err := a.status.StepStatuses(ctx, req.TaskID)
	if err != nil {
		return err
	}
	ids, err := a.status.StepIDs(ctx, req.TaskID)
	if err != nil {
		return err
	}

	for stepName, status := range statuses {
		if status != models.StatusProcessing.String() {
			continue
		}
		if historyID := ids[stepName]; historyID != "" {
			if err := a.backend.FinishStep(ctx, models.WorkflowStepFinishRequest{
				WorkflowHistoryID: historyID,
				Status:            cancelledStepStatus,
				Code:              cancelledCode,
				Message:           req.Reason,
			}); err != nil {
				return fmt.Errorf("failed to cancel step %s: %w", stepName, err)
			}
		}
		if err := a.status.SetStepStatus(ctx, req.TaskID, stepName, cancelledStepStatus); err != nil {
			return err
		}
	}

	if err := a.queue.Revoke(ctx, req.TaskID, req.Reason); err != nil {
		return err
	}
	return a.status.SetWorkflowStatus(ctx, req.TaskID, statusstore.StatusCancelled)
}

// TaskStatus reports the run status and per-step statuses of a task.
func (a *API) TaskStatus(c fiber.Ctx) error {
	taskID := c.Params("id")

	state, err := a.status.GetWorkflow(c.Context(), taskID)
	if errors.Is(err, statusstore.ErrNotFound) {
		return notFound(c, workflowNotFound)
	}
	if err != nil {
		return internalError(c, err)
	}

	steps, err := a.status.StepStatuses(c.Context(), taskID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(TaskStatusResponse{
		TaskID:     taskID,
		WorkflowID: state.WorkflowID,
		Status:     state.Status,
		Steps:      steps,
	})
}

// Health probes the gateway's dependencies.
func (a *API) Health(c fiber.Ctx) error {
	if err := a.health(c.Context()); err != nil {
		a.logger.Error("Health check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "error", "details": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
