package bucket

import (
	"testing"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type folder string

func (f folder) TargetFolder() string { return string(f) }

var fixedNow = func() time.Time {
	return time.Date(2025, 7, 8, 23, 30, 0, 0, time.FixedZone("ICT", 7*3600))
}

func orderFile() models.FileRecord {
	return models.FileRecord{
		FileName:           "DN8000182519.csv",
		FileNameWoExt:      "DN8000182519",
		FolderName:         "orders",
		CustomerFolderName: "acme",
		ProceedAt:          "2025-07-08 16:30:00",
	}
}

func TestObjectKey_StepFullPrefix(t *testing.T) {
	key, err := ObjectKey(KeyParams{
		RequestID:  "req-1",
		File:       orderFile(),
		Step:       &models.WorkflowStep{StepName: "FILE_PARSE", StepOrder: 1},
		StepConfig: folder("workflow-node-materialized"),
		FullPrefix: true,
		Now:        fixedNow,
	})
	require.NoError(t, err)
	// the date is taken in UTC
	assert.Equal(t, "workflow-node-materialized/orders/acme/20250708/req-1/01_FILE_PARSE/DN8000182519.json", key)
}

func TestObjectKey_StepPrefixOnly(t *testing.T) {
	key, err := ObjectKey(KeyParams{
		RequestID:    "req-1",
		File:         orderFile(),
		Step:         &models.WorkflowStep{StepName: "FILE_PARSE", StepOrder: 1},
		StepConfig:   folder("out"),
		RerunAttempt: 3,
		Now:          fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "out/orders/acme/20250708/req-1/01_FILE_PARSE/", key)
}

func TestObjectKey_MasterDataPrefixUsesStem(t *testing.T) {
	key, err := ObjectKey(KeyParams{
		RequestID:  "req-2",
		File:       orderFile(),
		Step:       &models.WorkflowStep{StepName: "MASTER_DATA_FILE_PARSE", StepOrder: 12},
		StepConfig: folder("out"),
		MasterData: true,
		FullPrefix: true,
		Now:        fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "out/DN8000182519/20250708/req-2/12_MASTER_DATA_FILE_PARSE/DN8000182519.json", key)
}

func TestObjectKey_RerunSuffix(t *testing.T) {
	tests := []struct {
		attempt  int
		expected string
	}{
		{0, "DN8000182519.json"},
		{1, "DN8000182519.json"},
		{2, "DN8000182519_rerun_2.json"},
		{7, "DN8000182519_rerun_7.json"},
	}

	for _, tt := range tests {
		key, err := ObjectKey(KeyParams{
			RequestID:    "req-1",
			File:         orderFile(),
			Step:         &models.WorkflowStep{StepName: "FILE_PARSE", StepOrder: 1},
			StepConfig:   folder("out"),
			RerunAttempt: tt.attempt,
			FullPrefix:   true,
			Now:          fixedNow,
		})
		require.NoError(t, err)
		assert.Equal(t, "out/orders/acme/20250708/req-1/01_FILE_PARSE/"+tt.expected, key)
	}
}

func TestObjectKey_Deterministic(t *testing.T) {
	params := KeyParams{
		RequestID:  "req-1",
		File:       orderFile(),
		Step:       &models.WorkflowStep{StepName: "FILE_PARSE", StepOrder: 1},
		StepConfig: folder("out"),
		FullPrefix: true,
		Now:        fixedNow,
	}

	first, err := ObjectKey(params)
	require.NoError(t, err)
	second, err := ObjectKey(params)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	params.Step = &models.WorkflowStep{StepName: "FILE_PARSE", StepOrder: 2}
	third, err := ObjectKey(params)
	require.NoError(t, err)
	assert.Equal(t, "out/orders/acme/20250708/req-1/02_FILE_PARSE/DN8000182519.json", third)
	assert.NotEqual(t, first, third)
}

func TestObjectKey_MasterDataFolders(t *testing.T) {
	file := models.FileRecord{
		FileName:      "customers.xlsx",
		FileNameWoExt: "customers",
		ProceedAt:     "2025-07-08 16:30:00",
	}

	tests := []struct {
		folder   string
		version  string
		expected string
	}{
		{FolderMasterData, "", "master_data/customers/customers.xlsx"},
		{FolderProcessData, "", "process_data/customers/customers_2025-07-08 16:30:00.json"},
		{FolderVersioning, "004", "versioning/customers/004/customers.xlsx"},
	}

	for _, tt := range tests {
		t.Run(tt.folder, func(t *testing.T) {
			key, err := ObjectKey(KeyParams{
				File:          file,
				MasterData:    true,
				TargetFolder:  tt.folder,
				VersionFolder: tt.version,
				FullPrefix:    true,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, key)
		})
	}
}

func TestObjectKey_Unsupported(t *testing.T) {
	tests := []struct {
		name   string
		params KeyParams
	}{
		{"step mode without step", KeyParams{File: orderFile(), StepConfig: folder("out")}},
		{"step mode without config", KeyParams{File: orderFile(), Step: &models.WorkflowStep{StepName: "X"}}},
		{"master folder for non master data", KeyParams{File: orderFile(), TargetFolder: FolderMasterData}},
		{"unknown folder", KeyParams{File: orderFile(), MasterData: true, TargetFolder: "archive"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ObjectKey(tt.params)
			assert.ErrorIs(t, err, ErrUnsupportedAddressing)
		})
	}
}

func TestNextVersionFolder(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		expected string
	}{
		{"no versions", nil, "001"},
		{"two versions", []string{"versioning/sample/001/sample.xlsx", "versioning/sample/002/sample.xlsx"}, "003"},
		{"gaps use the max", []string{"versioning/sample/001/a", "versioning/sample/009/a"}, "010"},
		{"other stems ignored", []string{"versioning/sample2/005/a", "versioning/sample/001/a"}, "002"},
		{"folder markers count", []string{"versioning/sample/001/", "versioning/sample/002/"}, "003"},
		{"malformed ignored", []string{"versioning/sample/latest/a"}, "001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextVersionFolder(tt.keys, "sample"))
		})
	}
}
