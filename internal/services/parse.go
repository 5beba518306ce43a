package services

import (
	"context"
	"fmt"
	"os"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/Lllllllleong/documentworkflow/internal/parsers"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
)

// ParseFileToJSON reads the request's file and parses it in the background.
// Read and parse problems produce a FAILED output rather than an error.
func (p *FileProcessor) ParseFileToJSON(ctx context.Context, sctx *steps.Context, _ steps.Args) *steps.Pending {
	file := sctx.File
	logCtx := p.logger.With("requestId", sctx.Tracking.RequestID, "filePath", file.FilePath)

	return steps.Go(ctx, func(ctx context.Context) (any, error) {
		data, err := p.readSource(ctx, file)
		if err != nil {
			logCtx.Error("Failed to read source file", "error", err)
			return models.Failed(nil, err.Error()), nil
		}

		src := parsers.Source{
			FilePath:     file.FilePath,
			FileName:     file.FileName,
			Extension:    file.FileExtension,
			DocumentType: file.DocumentType,
			Data:         data,
		}
		if file.SourceType != models.SourceTypeLocal {
			src.URI = fmt.Sprintf("gs://%s/%s", file.RawBucketName, file.FilePath)
		}

		doc, err := p.parser.Parse(ctx, src)
		if err != nil {
			logCtx.Error("Failed to parse file", "error", err)
			return models.Failed(nil, fmt.Sprintf("failed to parse %s: %v", file.FileName, err)), nil
		}
		if doc.OriginalFilePath == "" {
			doc.OriginalFilePath = file.FilePath
		}
		doc.Capacity = file.FileSize

		logCtx.Info("File parsed.", "documentType", doc.DocumentType, "poNumber", doc.PONumber)
		return documentOutput(doc), nil
	})
}

func (p *FileProcessor) readSource(ctx context.Context, file models.FileRecord) ([]byte, error) {
	if file.SourceType == models.SourceTypeLocal {
		data, err := os.ReadFile(file.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read local file %s: %w", file.FilePath, err)
		}
		return data, nil
	}

	data, ok := p.gateway.Get(ctx, file.RawBucketName, file.FilePath)
	if !ok {
		return nil, fmt.Errorf("gs://%s/%s: %w", file.RawBucketName, file.FilePath, objectstore.ErrNotFound)
	}
	return data, nil
}
