package models

// These structs define the JSON payloads exchanged with the backend workflow API
// and with callers of the file-processor gateway.

// FileProcessRequest is the body of POST /file/process.
type FileProcessRequest struct {
	FilePath      string `json:"file_path" validate:"required"`
	Project       string `json:"project" validate:"required"`
	Source        string `json:"source" validate:"required"`
	SourceType    string `json:"source_type,omitempty" validate:"omitempty,oneof=local gcs"`
	SAPMasterData *bool  `json:"sap_masterdata,omitempty"`
	RerunAttempt  *int   `json:"rerun_attempt,omitempty" validate:"omitempty,gte=1"`
	RequestID     string `json:"celery_id,omitempty"`
}

// FileProcessResponse is the output of POST /file/process.
type FileProcessResponse struct {
	FilePath string `json:"file_path"`
	TaskID   string `json:"celery_id"`
}

// StopTaskRequest is the body of POST /tasks/stop.
type StopTaskRequest struct {
	TaskID string `json:"task_id" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// WorkflowFilterQuery identifies the workflow that handles a given file.
type WorkflowFilterQuery struct {
	Project       string `json:"project"`
	FileName      string `json:"fileName"`
	FileExtension string `json:"fileExtension"`
	Source        string `json:"source"`
	FilePath      string `json:"filePath"`
}

// WorkflowSessionStartRequest opens a backend session for one run.
type WorkflowSessionStartRequest struct {
	WorkflowID string `json:"workflowId"`
	CeleryID   string `json:"celeryId"`
	FilePath   string `json:"filePath"`
}

// WorkflowSessionStartResponse carries the backend session id.
type WorkflowSessionStartResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// WorkflowSessionFinishRequest closes a backend session.
type WorkflowSessionFinishRequest struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// WorkflowStepStartRequest notifies the backend that a step started.
type WorkflowStepStartRequest struct {
	SessionID string `json:"sessionId"`
	StepID    string `json:"stepId"`
}

// WorkflowStepFinishRequest notifies the backend that a step ended.
type WorkflowStepFinishRequest struct {
	WorkflowHistoryID string `json:"workflowHistoryId"`
	Status            string `json:"status"`
	Code              int    `json:"code"`
	Message           string `json:"message,omitempty"`
}

// WorkflowStopRequest asks the backend to mark a workflow run as cancelled.
type WorkflowStopRequest struct {
	WorkflowID string `json:"workflowId"`
	TaskID     string `json:"celeryId"`
	Reason     string `json:"reason"`
}

// HeaderReference is one expected header column for master-data validation.
type HeaderReference struct {
	Name   string `json:"name"`
	PosIdx int    `json:"posidx"`
}

// DataReference describes the expected type of one master-data column.
type DataReference struct {
	Name      string `json:"name"`
	DataType  string `json:"datatype"`
	Nullable  *bool  `json:"nullable,omitempty"`
	MaxLength *int   `json:"maxlength,omitempty"`
}

// WorkflowStepStartResponse carries the history record opened for a step.
type WorkflowStepStartResponse struct {
	WorkflowHistoryID string `json:"workflowHistoryId"`
}
