package models

import (
	"encoding/json"
	"fmt"
)

// StepStatus is the persisted status code of a step or parsed document.
type StepStatus string

const (
	StatusSuccess    StepStatus = "1"
	StatusFailed     StepStatus = "2"
	StatusProcessing StepStatus = "3"
	StatusNotDefined StepStatus = "5"
)

func (s StepStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusProcessing:
		return "PROCESSING"
	case StatusNotDefined:
		return "NOT_DEFINED"
	default:
		return fmt.Sprintf("UNKNOWN(%s)", string(s))
	}
}

// StepOutput is the uniform envelope produced by every step execution.
// Status SUCCESS carries no failure messages; FAILED carries at least one.
type StepOutput struct {
	Output          any        `json:"output"`
	Status          StepStatus `json:"step_status"`
	FailureMessages []string   `json:"step_failure_message,omitempty"`
}

// Succeeded wraps a payload in a SUCCESS envelope.
func Succeeded(output any) StepOutput {
	return StepOutput{Output: output, Status: StatusSuccess}
}

// Failed builds a FAILED envelope. An empty message list is replaced by a
// generic message so the envelope invariant holds.
func Failed(output any, messages ...string) StepOutput {
	if len(messages) == 0 {
		messages = []string{"step failed"}
	}
	return StepOutput{Output: output, Status: StatusFailed, FailureMessages: messages}
}

// NotDefined is returned for step names without a bound implementation.
func NotDefined(stepName string) StepOutput {
	return StepOutput{
		Status:          StatusNotDefined,
		FailureMessages: []string{fmt.Sprintf("%s not yet defined", stepName)},
	}
}

// IsSuccess reports whether the step completed successfully.
func (o StepOutput) IsSuccess() bool {
	return o.Status == StatusSuccess
}

// FirstMessage returns the first failure message, or "".
func (o StepOutput) FirstMessage() string {
	if len(o.FailureMessages) == 0 {
		return ""
	}
	return o.FailureMessages[0]
}

// StepConfiguration is the backend-supplied configuration attached to a
// workflow step. Only the fields the engine reads are decoded.
type StepConfiguration struct {
	ConfigID string          `json:"configId,omitempty"`
	Name     string          `json:"name,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// WorkflowStep is one ordered entry of a workflow definition.
type WorkflowStep struct {
	WorkflowStepID    string              `json:"workflowStepId"`
	StepName          string              `json:"stepName"`
	StepOrder         int                 `json:"stepOrder"`
	StepConfiguration []StepConfiguration `json:"stepConfiguration,omitempty"`
}

// WorkflowFilter is the backend's answer to "which workflow handles this file".
type WorkflowFilter struct {
	WorkflowID           string         `json:"workflowId" validate:"required"`
	Name                 string         `json:"name"`
	IsMasterDataWorkflow bool           `json:"isMasterDataWorkflow"`
	SAPMasterData        bool           `json:"sapMasterData"`
	FolderName           string         `json:"folderName" validate:"required_if=IsMasterDataWorkflow false"`
	CustomerFolderName   string         `json:"customerFolderName" validate:"required_if=IsMasterDataWorkflow false"`
	WorkflowSteps        []WorkflowStep `json:"workflowSteps"`
}
