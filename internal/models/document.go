package models

import "time"

// RequestSession is the Firestore audit record for one file-processing request.
// It tracks the overall status of the request and the step that ended it.
type RequestSession struct {
	RequestID    string    `firestore:"requestId,omitempty"`
	FilePath     string    `firestore:"filePath,omitempty"`
	ProjectName  string    `firestore:"projectName,omitempty"`
	WorkflowID   string    `firestore:"workflowId,omitempty"`
	WorkflowName string    `firestore:"workflowName,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	FailedStep   string    `firestore:"failedStep,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	RerunAttempt int       `firestore:"rerunAttempt,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}

// IngestedFile records a raw object handed to the workflow engine. The hash
// lets repeated finalize events for identical content be dropped.
type IngestedFile struct {
	FileHash     string    `firestore:"fileHash"`
	Bucket       string    `firestore:"bucket"`
	ObjectName   string    `firestore:"objectName"`
	Status       string    `firestore:"status"`
	ExecutionID  string    `firestore:"executionId,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}
