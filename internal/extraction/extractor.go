// Package extraction resolves the metadata of the file a request points at.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/bucket"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
)

var (
	ErrFileNotFound         = errors.New("file not found")
	ErrInvalidPath          = errors.New("invalid file path")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

// ProceedAtLayout is the layout of FileRecord.ProceedAt.
const ProceedAtLayout = "2006-01-02 15:04:05"

// Extractor builds FileRecords for incoming requests.
type Extractor struct {
	resolver  *bucket.Resolver
	gateway   *objectstore.Gateway
	supported map[string]bool
	now       func() time.Time
}

// NewExtractor builds an extractor accepting the given extensions (".csv", ".pdf", ...).
func NewExtractor(resolver *bucket.Resolver, gateway *objectstore.Gateway, supportTypes []string) *Extractor {
	supported := make(map[string]bool, len(supportTypes))
	for _, ext := range supportTypes {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		supported[ext] = true
	}
	return &Extractor{resolver: resolver, gateway: gateway, supported: supported, now: time.Now}
}

// WithClock pins the clock used for ProceedAt.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract resolves document type and buckets, checks that the file exists and
// has a supported extension, and records its size.
func (e *Extractor) Extract(ctx context.Context, t models.TrackingContext) (models.FileRecord, error) {
	rec := models.FileRecord{
		FilePath:   t.FilePath,
		SourceType: t.SourceType,
		ProceedAt:  e.now().UTC().Format(ProceedAtLayout),
	}
	if rec.SourceType == "" {
		rec.SourceType = models.SourceTypeGCS
	}

	docType, err := DocumentTypeOf(t.FilePath, rec.SourceType)
	if err != nil {
		return models.FileRecord{}, err
	}
	rec.DocumentType = docType

	rec.RawBucketName, err = e.resolver.ResolveBucket(docType, bucket.RoleRaw, t.ProjectName, t.SAPMasterData)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to retrieve bucket names for document type %q: %w", docType, err)
	}
	rec.TargetBucketName, err = e.resolver.ResolveBucket(docType, bucket.RoleTarget, t.ProjectName, t.SAPMasterData)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to retrieve bucket names for document type %q: %w", docType, err)
	}

	var size int64
	if rec.SourceType == models.SourceTypeLocal {
		info, err := os.Stat(t.FilePath)
		if err != nil || info.IsDir() {
			return models.FileRecord{}, fmt.Errorf("%w: failed to find local file %q", ErrFileNotFound, t.FilePath)
		}
		size = info.Size()
		rec.FileName = filepath.Base(t.FilePath)
		rec.FilePathParent = filepath.Dir(t.FilePath) + "/"
	} else {
		exists, attrs := e.gateway.HeadExists(ctx, rec.RawBucketName, t.FilePath)
		if !exists {
			return models.FileRecord{}, fmt.Errorf("%w: failed to find object %q in bucket %q", ErrFileNotFound, t.FilePath, rec.RawBucketName)
		}
		size = attrs.Size
		rec.FileName = path.Base(t.FilePath)
		rec.FilePathParent = path.Dir(t.FilePath) + "/"
	}

	ext := strings.ToLower(path.Ext(rec.FileName))
	if ext == "" {
		return models.FileRecord{}, fmt.Errorf("%w: file %q has no extension", ErrUnsupportedExtension, t.FilePath)
	}
	if !e.supported[ext] {
		return models.FileRecord{}, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	rec.FileExtension = ext
	rec.FileNameWoExt = strings.TrimSuffix(rec.FileName, path.Ext(rec.FileName))
	rec.FileSize = FormatSize(size)

	return rec, nil
}

// DocumentTypeOf classifies a path: any segment equal to "master_data"
// (case-insensitive) marks master data.
func DocumentTypeOf(filePath string, source models.SourceType) (models.DocumentType, error) {
	var parts []string
	if source == models.SourceTypeLocal {
		parts = strings.Split(filepath.ToSlash(filepath.Clean(filePath)), "/")
	} else {
		parts = strings.Split(path.Clean(filePath), "/")
	}

	if strings.TrimSpace(filePath) == "" || len(parts) == 0 {
		return "", fmt.Errorf("%w: %q has no path components", ErrInvalidPath, filePath)
	}
	for _, part := range parts {
		if strings.EqualFold(part, string(models.DocumentTypeMasterData)) {
			return models.DocumentTypeMasterData, nil
		}
	}
	return models.DocumentTypeOrder, nil
}

// FormatSize renders a byte count in KB, or in MB from 1 MB up.
func FormatSize(sizeBytes int64) string {
	mb := float64(sizeBytes) / (1024 * 1024)
	if mb >= 1 {
		return fmt.Sprintf("%.2f MB", mb)
	}
	return fmt.Sprintf("%.2f KB", float64(sizeBytes)/1024)
}
