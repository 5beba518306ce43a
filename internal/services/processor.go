package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/Lllllllleong/documentworkflow/internal/parsers"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
)

// ReferenceSource serves the expected layout of a master-data table.
type ReferenceSource interface {
	HeaderReferences(ctx context.Context, tableName string) ([]models.HeaderReference, error)
	DataReferences(ctx context.Context, tableName string) ([]models.DataReference, error)
}

// FileExtractor resolves the file record of a request.
type FileExtractor interface {
	Extract(ctx context.Context, t models.TrackingContext) (models.FileRecord, error)
}

// FileProcessor implements the built-in step functions.
type FileProcessor struct {
	parser     parsers.Parser
	gateway    *objectstore.Gateway
	references ReferenceSource
	extractor  FileExtractor
	logger     *slog.Logger
	table      steps.Table
}

func NewFileProcessor(parser parsers.Parser, gateway *objectstore.Gateway, references ReferenceSource, extractor FileExtractor, logger *slog.Logger) *FileProcessor {
	p := &FileProcessor{
		parser:     parser,
		gateway:    gateway,
		references: references,
		extractor:  extractor,
		logger:     logger,
	}
	p.table = steps.Table{
		steps.FuncExtractMetadata:  {Sync: p.ExtractMetadata},
		steps.FuncParseFileToJSON:  {Async: p.ParseFileToJSON},
		steps.FuncHeaderValidation: {Async: p.HeaderValidation},
		steps.FuncDataValidation:   {Async: p.DataValidation},
		steps.FuncWriteJSONToStore: {Sync: p.WriteJSONToStore},
		steps.FuncWriteRawToStore:  {Sync: p.WriteRawToStore},
		steps.FuncSendTo:           {Sync: p.SendTo},
	}
	return p
}

func (p *FileProcessor) Lookup(functionName string) (steps.Callable, bool) {
	return p.table.Lookup(functionName)
}

// ExtractMetadata resolves the file record when the run started without one.
func (p *FileProcessor) ExtractMetadata(ctx context.Context, sctx *steps.Context, _ steps.Args) (any, error) {
	logCtx := p.logger.With("requestId", sctx.Tracking.RequestID, "filePath", sctx.Tracking.FilePath)

	if sctx.File.FilePath != "" || p.extractor == nil {
		logCtx.Info("File metadata already extracted.", "documentType", sctx.File.DocumentType)
		return models.Succeeded(true), nil
	}

	rec, err := p.extractor.Extract(ctx, sctx.Tracking)
	if err != nil {
		logCtx.Error("Error in extract_metadata", "error", err)
		return nil, fmt.Errorf("failed to extract file metadata: %w", err)
	}
	rec.FolderName = sctx.File.FolderName
	rec.CustomerFolderName = sctx.File.CustomerFolderName
	sctx.File = rec

	logCtx.Info("Metadata extracted for file.", "documentType", rec.DocumentType, "fileSize", rec.FileSize)
	return models.Succeeded(true), nil
}

// parsedInput unwraps the parsed document handed to a step as its first argument.
func parsedInput(args steps.Args) (*models.ParsedDocument, error) {
	switch v := args.Arg(0).(type) {
	case *models.ParsedDocument:
		if v != nil {
			return v, nil
		}
	case models.StepOutput:
		if doc, ok := v.Output.(*models.ParsedDocument); ok && doc != nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("expected a parsed document as input, got %T", args.Arg(0))
}

// documentOutput wraps a parsed document in an envelope carrying its status.
func documentOutput(doc *models.ParsedDocument) models.StepOutput {
	if doc.StepStatus == models.StatusFailed {
		return models.Failed(doc, doc.Messages...)
	}
	return models.Succeeded(doc)
}
