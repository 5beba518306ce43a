package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	for _, name := range []string{
		"EXTRACT_METADATA",
		"FILE_PARSE",
		"TEMPLATE_FILE_PARSE",
		"MASTER_DATA_FILE_PARSE",
		"MASTER_DATA_HEADER_VALIDATION",
		"MASTER_DATA_DATA_VALIDATION",
		"WRITE_JSON_TO_S3",
		"MASTER_DATA_LOAD_TO_S3",
		"WRITE_RAW_TO_S3",
		"SEND_TO",
	} {
		assert.True(t, r.Has(name), name)
	}

	parse, ok := r.Get("FILE_PARSE")
	require.True(t, ok)
	assert.Equal(t, FuncParseFileToJSON, parse.FunctionName)
	assert.True(t, parse.RequireDataOutput)
	assert.Equal(t, MaterializedFolder, parse.TargetFolder())
	assert.Equal(t, map[string]string{KeyDocumentNumber: "po_number"}, parse.ExtractTo)

	master, ok := r.Get("MASTER_DATA_FILE_PARSE")
	require.True(t, ok)
	assert.Empty(t, master.ExtractTo)
}

func TestRegistry_RegisterValidates(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  Definition
	}{
		{"no name", Definition{FunctionName: "f"}},
		{"no function", Definition{StepName: "X"}},
		{"persisted without folder", Definition{StepName: "X", FunctionName: "f", RequireDataOutput: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Register(tt.def), ErrInvalidDefinition)
		})
	}
	assert.Empty(t, r.Names())
}

func TestRegistry_ApplyOverrides(t *testing.T) {
	r := NewDefaultRegistry()

	err := r.Apply(map[string]Definition{
		"SEND_TO":      {FunctionName: "send_to_sftp"},
		"CUSTOM_PARSE": {FunctionName: FuncParseFileToJSON, DataOutput: KeyParsedData, RequireDataOutput: true, StoreFolder: "custom"},
	})
	require.NoError(t, err)

	send, _ := r.Get("SEND_TO")
	assert.Equal(t, "send_to_sftp", send.FunctionName)

	custom, ok := r.Get("CUSTOM_PARSE")
	require.True(t, ok)
	assert.Equal(t, "CUSTOM_PARSE", custom.StepName)
	assert.Equal(t, "custom", custom.TargetFolder())

	err = r.Apply(map[string]Definition{"BROKEN": {}})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}
