package steps

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/documentworkflow/internal/models"
)

// KeyInputData holds the positional arguments of the most recent invocation.
const KeyInputData = "input_data"

var ErrReadOnlyKey = errors.New("context key is read-only")

// Context is the per-run state shared by the steps of one workflow run. It
// keeps two namespaces: the typed tracking and file records, and a map for
// values produced while the run progresses. It is owned by a single run and
// is not safe for concurrent use.
type Context struct {
	Tracking models.TrackingContext
	File     models.FileRecord
	Workflow *models.WorkflowFilter

	values map[string]any
}

func NewContext(tracking models.TrackingContext, file models.FileRecord) *Context {
	return &Context{
		Tracking: tracking,
		File:     file,
		values:   make(map[string]any),
	}
}

// Get reads key from the typed records first, then from the dynamic values.
func (c *Context) Get(key string) (any, bool) {
	if v, ok := c.field(key); ok {
		return v, true
	}
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key. Typed fields other than document_number are
// read-only once the run starts.
func (c *Context) Set(key string, value any) error {
	if key == KeyDocumentNumber {
		switch v := value.(type) {
		case nil:
			c.Tracking.DocumentNumber = ""
		case string:
			c.Tracking.DocumentNumber = v
		default:
			c.Tracking.DocumentNumber = fmt.Sprint(v)
		}
		return nil
	}
	if _, ok := c.field(key); ok {
		return fmt.Errorf("%w: %s", ErrReadOnlyKey, key)
	}
	c.values[key] = value
	return nil
}

// Values returns a copy of the dynamic namespace.
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *Context) field(key string) (any, bool) {
	t, f := &c.Tracking, &c.File
	switch key {
	case "request_id":
		return t.RequestID, true
	case "file_path":
		return t.FilePath, true
	case "project_name":
		return t.ProjectName, true
	case "source_name":
		return t.SourceName, true
	case "workflow_id":
		return t.WorkflowID, true
	case "workflow_name":
		return t.WorkflowName, true
	case KeyDocumentNumber:
		return t.DocumentNumber, t.DocumentNumber != ""
	case "sap_masterdata":
		return t.SAPMasterData, true
	case "rerun_attempt":
		return t.Attempt(), true
	case "document_type":
		return f.DocumentType, true
	case "file_name":
		return f.FileName, true
	case "file_name_wo_ext":
		return f.FileNameWoExt, true
	case "file_extension":
		return f.FileExtension, true
	case "raw_bucket_name":
		return f.RawBucketName, true
	case "target_bucket_name":
		return f.TargetBucketName, true
	case "proceed_at":
		return f.ProceedAt, true
	}
	return nil, false
}
