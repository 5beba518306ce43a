package steps

import (
	"errors"
	"fmt"
)

// Function names bound by the file processor.
const (
	FuncExtractMetadata  = "extract_metadata"
	FuncParseFileToJSON  = "parse_file_to_json"
	FuncHeaderValidation = "header_validation"
	FuncDataValidation   = "data_validation"
	FuncWriteJSONToStore = "write_json_to_s3"
	FuncWriteRawToStore  = "write_raw_to_s3"
	FuncSendTo           = "send_to"
)

// Context keys written by the built-in definitions.
const (
	KeyParsedData     = "parsed_data"
	KeyWriteResult    = "write_result"
	KeyRawCopy        = "raw_copy"
	KeyS3KeyPrefix    = "s3_key_prefix"
	KeyDocumentNumber = "document_number"
)

// MaterializedFolder is the folder persisted step outputs are written under.
const MaterializedFolder = "workflow-node-materialized"

var ErrInvalidDefinition = errors.New("invalid step definition")

// Binding names where one callable argument comes from. A binding without
// From is a literal.
type Binding struct {
	From     string `yaml:"from"`
	Value    any    `yaml:"value"`
	Optional bool   `yaml:"optional"`
}

// Definition is the static configuration of one step.
type Definition struct {
	StepName          string             `yaml:"-"`
	FunctionName      string             `yaml:"function_name"`
	Args              []Binding          `yaml:"args"`
	Kwargs            map[string]Binding `yaml:"kwargs"`
	DataOutput        string             `yaml:"data_output"`
	RequireDataOutput bool               `yaml:"require_data_output"`
	StoreFolder       string             `yaml:"target_store_data"`
	// ExtractTo maps a context key to a field of the step output.
	ExtractTo map[string]string `yaml:"extract_to"`
}

// TargetFolder is the folder persisted outputs of this step are keyed under.
func (d Definition) TargetFolder() string {
	return d.StoreFolder
}

func (d Definition) validate() error {
	if d.StepName == "" {
		return fmt.Errorf("%w: step name is required", ErrInvalidDefinition)
	}
	if d.FunctionName == "" {
		return fmt.Errorf("%w: %s has no function name", ErrInvalidDefinition, d.StepName)
	}
	if d.RequireDataOutput && d.StoreFolder == "" {
		return fmt.Errorf("%w: %s persists its output but has no target folder", ErrInvalidDefinition, d.StepName)
	}
	return nil
}

func parsedDataInput() []Binding {
	return []Binding{{From: KeyParsedData}}
}

func parseDefinition(name string, extract bool) Definition {
	def := Definition{
		StepName:          name,
		FunctionName:      FuncParseFileToJSON,
		DataOutput:        KeyParsedData,
		RequireDataOutput: true,
		StoreFolder:       MaterializedFolder,
	}
	if extract {
		def.ExtractTo = map[string]string{KeyDocumentNumber: "po_number"}
	}
	return def
}

func validationDefinition(name, function string) Definition {
	return Definition{
		StepName:          name,
		FunctionName:      function,
		Args:              parsedDataInput(),
		DataOutput:        KeyParsedData,
		RequireDataOutput: true,
		StoreFolder:       MaterializedFolder,
	}
}

// DefaultDefinitions returns the built-in step table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{StepName: "EXTRACT_METADATA", FunctionName: FuncExtractMetadata},
		parseDefinition("FILE_PARSE", true),
		parseDefinition("TEMPLATE_FILE_PARSE", true),
		parseDefinition("MASTER_DATA_FILE_PARSE", false),
		validationDefinition("MASTER_DATA_HEADER_VALIDATION", FuncHeaderValidation),
		validationDefinition("MASTER_DATA_DATA_VALIDATION", FuncDataValidation),
		{
			StepName:     "WRITE_JSON_TO_S3",
			FunctionName: FuncWriteJSONToStore,
			Args:         parsedDataInput(),
			Kwargs: map[string]Binding{
				KeyS3KeyPrefix: {From: KeyS3KeyPrefix, Optional: true},
			},
			DataOutput: KeyWriteResult,
		},
		{StepName: "MASTER_DATA_LOAD_TO_S3", FunctionName: FuncWriteRawToStore, DataOutput: KeyRawCopy},
		{StepName: "WRITE_RAW_TO_S3", FunctionName: FuncWriteRawToStore, DataOutput: KeyRawCopy},
		{StepName: "SEND_TO", FunctionName: FuncSendTo, Args: parsedDataInput()},
	}
}
