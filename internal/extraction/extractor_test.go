package extraction

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/bucket"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(store *objectstore.MemoryStore) *Extractor {
	resolver := bucket.NewResolver(bucket.Map{
		Raw: map[string]string{"DKSH_TW": "raw-tw"},
		Target: map[string]map[string]string{
			"order":       {"DKSH_TW": "process-tw"},
			"master_data": {"DKSH_TW": "master-tw"},
		},
	}, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := objectstore.NewGateway(objectstore.NewConnectorCache(store.Factory()), logger)
	return NewExtractor(resolver, gw, []string{".csv", "pdf", ".TXT"}).WithClock(func() time.Time {
		return time.Date(2025, 7, 8, 16, 30, 5, 0, time.UTC)
	})
}

func TestExtract_GCSOrder(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.Seed("raw-tw", "inbound/orders/PO123.CSV", make([]byte, 2048))

	rec, err := newTestExtractor(store).Extract(context.Background(), models.TrackingContext{
		FilePath:    "inbound/orders/PO123.CSV",
		ProjectName: "dksh_tw",
		SourceType:  models.SourceTypeGCS,
	})
	require.NoError(t, err)

	assert.Equal(t, models.FileRecord{
		FilePath:         "inbound/orders/PO123.CSV",
		FilePathParent:   "inbound/orders/",
		SourceType:       models.SourceTypeGCS,
		FileSize:         "2.00 KB",
		FileName:         "PO123.CSV",
		FileNameWoExt:    "PO123",
		FileExtension:    ".csv",
		DocumentType:     models.DocumentTypeOrder,
		RawBucketName:    "raw-tw",
		TargetBucketName: "process-tw",
		ProceedAt:        "2025-07-08 16:30:05",
	}, rec)
}

func TestExtract_LocalMasterData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Master_Data")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := filepath.Join(dir, "customers.txt")
	require.NoError(t, os.WriteFile(file, make([]byte, 3*1024*1024), 0o600))

	rec, err := newTestExtractor(objectstore.NewMemoryStore()).Extract(context.Background(), models.TrackingContext{
		FilePath:    file,
		ProjectName: "DKSH_TW",
		SourceType:  models.SourceTypeLocal,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypeMasterData, rec.DocumentType)
	assert.Equal(t, "master-tw", rec.TargetBucketName)
	assert.Equal(t, "3.00 MB", rec.FileSize)
	assert.Equal(t, "customers", rec.FileNameWoExt)
	assert.Equal(t, dir+"/", rec.FilePathParent)
}

func TestExtract_Errors(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.Seed("raw-tw", "in/doc.xml", []byte("<a/>"))
	store.Seed("raw-tw", "in/README", []byte("x"))
	ex := newTestExtractor(store)

	tests := []struct {
		name    string
		path    string
		project string
		want    error
	}{
		{"missing object", "in/absent.csv", "DKSH_TW", ErrFileNotFound},
		{"unsupported extension", "in/doc.xml", "DKSH_TW", ErrUnsupportedExtension},
		{"no extension", "in/README", "DKSH_TW", ErrUnsupportedExtension},
		{"empty path", "", "DKSH_TW", ErrInvalidPath},
		{"unmapped project", "in/doc.csv", "DKSH_VN", bucket.ErrBucketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Extract(context.Background(), models.TrackingContext{FilePath: tt.path, ProjectName: tt.project})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDocumentTypeOf(t *testing.T) {
	tests := []struct {
		path     string
		expected models.DocumentType
	}{
		{"master_data/customers.xlsx", models.DocumentTypeMasterData},
		{"in/MASTER_DATA/x.csv", models.DocumentTypeMasterData},
		{"in/master_data_old/x.csv", models.DocumentTypeOrder},
		{"in/orders/x.csv", models.DocumentTypeOrder},
	}
	for _, tt := range tests {
		got, err := DocumentTypeOf(tt.path, models.SourceTypeGCS)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got, tt.path)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0.00 KB", FormatSize(0))
	assert.Equal(t, "1.50 KB", FormatSize(1536))
	assert.Equal(t, "1023.99 KB", FormatSize(1024*1024-10))
	assert.Equal(t, "1.00 MB", FormatSize(1024*1024))
}
