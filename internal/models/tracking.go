package models

// DocumentType classifies an incoming file. It drives target bucket selection
// and the object-key addressing mode.
type DocumentType string

const (
	DocumentTypeOrder      DocumentType = "order"
	DocumentTypeMasterData DocumentType = "master_data"
)

// SourceType tells the extractor where the file lives.
type SourceType string

const (
	SourceTypeLocal SourceType = "local"
	SourceTypeGCS   SourceType = "gcs"
)

// TrackingContext identifies one file-processing request. It is built once when
// the request is accepted and never mutated afterwards.
type TrackingContext struct {
	RequestID      string     `json:"request_id"`
	FilePath       string     `json:"file_path,omitempty"`
	ProjectName    string     `json:"project_name,omitempty"`
	SourceName     string     `json:"source_name,omitempty"`
	SourceType     SourceType `json:"source_type,omitempty"`
	WorkflowID     string     `json:"workflow_id,omitempty"`
	WorkflowName   string     `json:"workflow_name,omitempty"`
	DocumentNumber string     `json:"document_number,omitempty"`
	DocumentType   string     `json:"document_type,omitempty"`
	SAPMasterData  bool       `json:"sap_masterdata,omitempty"`
	RerunAttempt   *int       `json:"rerun_attempt,omitempty"`
}

// TrackingFromRequest builds the tracking context for an accepted request.
func TrackingFromRequest(req FileProcessRequest) TrackingContext {
	t := TrackingContext{
		RequestID:    req.RequestID,
		FilePath:     req.FilePath,
		ProjectName:  req.Project,
		SourceName:   req.Source,
		SourceType:   SourceType(req.SourceType),
		RerunAttempt: req.RerunAttempt,
	}
	if t.SourceType == "" {
		t.SourceType = SourceTypeGCS
	}
	if req.SAPMasterData != nil {
		t.SAPMasterData = *req.SAPMasterData
	}
	return t
}

// Attempt returns the rerun attempt, or 0 when the request is an original run.
func (t TrackingContext) Attempt() int {
	if t.RerunAttempt == nil {
		return 0
	}
	return *t.RerunAttempt
}

// FileRecord is the metadata resolved for the request's file. Document type and
// bucket names are resolved once during extraction and never change afterwards.
type FileRecord struct {
	FilePath           string       `json:"file_path"`
	FilePathParent     string       `json:"file_path_parent"`
	SourceType         SourceType   `json:"source_type"`
	FileSize           string       `json:"file_size"`
	FileName           string       `json:"file_name"`
	FileNameWoExt      string       `json:"file_name_wo_ext"`
	FileExtension      string       `json:"file_extension"`
	DocumentType       DocumentType `json:"document_type"`
	RawBucketName      string       `json:"raw_bucket_name"`
	TargetBucketName   string       `json:"target_bucket_name"`
	ProceedAt          string       `json:"proceed_at"`
	FolderName         string       `json:"folder_name,omitempty"`
	CustomerFolderName string       `json:"customer_foldername,omitempty"`
}
