package models

// ParsedDocument is the payload produced by parse and validation steps and
// persisted as the step artifact.
type ParsedDocument struct {
	OriginalFilePath string         `json:"original_file_path"`
	DocumentType     DocumentType   `json:"document_type"`
	PONumber         string         `json:"po_number,omitempty"`
	Headers          []string       `json:"headers,omitempty"`
	Items            any            `json:"items"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	StepStatus       StepStatus     `json:"step_status"`
	Messages         []string       `json:"messages,omitempty"`
	Capacity         string         `json:"capacity,omitempty"`
	JSONOutput       string         `json:"json_output,omitempty"`
}

// Clone returns a shallow copy with its own metadata map and message slice.
func (d *ParsedDocument) Clone() *ParsedDocument {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Messages = append([]string(nil), d.Messages...)
	return &c
}

// Fail marks the document FAILED with the given messages appended.
func (d *ParsedDocument) Fail(messages ...string) {
	d.StepStatus = StatusFailed
	d.Messages = append(d.Messages, messages...)
}
