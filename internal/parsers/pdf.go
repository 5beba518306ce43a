package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractionUserPrompt accompanies every PDF sent to the extraction model.
const ExtractionUserPrompt = `You will be provided with a purchase order or master-data PDF document.

Return a single JSON object with these keys:
- "po_number": the purchase order number as a string, or "" when the document has none.
- "metadata": an object holding document-level fields such as buyer, supplier, order date and currency.
- "items": an array with one object per line item, using the column headers of the document as keys.

Preserve values exactly as printed. Do not translate, round or reformat numbers and dates.`

// ContentGenerator is the part of *genai.GenerativeModel the PDF parser uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// PDFParser validates a PDF locally and asks a Gemini model to extract its
// line items.
type PDFParser struct {
	model    ContentGenerator
	maxPages int
	logger   *slog.Logger
}

func NewPDFParser(model ContentGenerator, maxPages int, logger *slog.Logger) *PDFParser {
	return &PDFParser{model: model, maxPages: maxPages, logger: logger}
}

type extraction struct {
	PONumber string           `json:"po_number"`
	Metadata map[string]any   `json:"metadata"`
	Items    []map[string]any `json:"items"`
}

func (p *PDFParser) Parse(ctx context.Context, src Source) (*models.ParsedDocument, error) {
	logCtx := p.logger.With("filePath", src.FilePath)

	pageCount, err := p.inspect(src.Data)
	if err != nil {
		logCtx.Error("PDF failed validation", "error", err)
		return nil, err
	}
	if p.maxPages > 0 && pageCount > p.maxPages {
		return nil, fmt.Errorf("pdf has %d pages, limit is %d", pageCount, p.maxPages)
	}
	logCtx.Info("PDF validated.", "pageCount", pageCount)

	var filePart genai.Part
	if src.URI != "" {
		filePart = genai.FileData{MIMEType: "application/pdf", FileURI: src.URI}
	} else {
		filePart = genai.Blob{MIMEType: "application/pdf", Data: src.Data}
	}

	resp, err := p.model.GenerateContent(ctx, filePart, genai.Text(ExtractionUserPrompt))
	if err != nil {
		logCtx.Error("Error calling Vertex AI", "error", err)
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	var out extraction
	if err := json.Unmarshal([]byte(responseText(resp)), &out); err != nil {
		return nil, fmt.Errorf("gemini returned malformed JSON: %w", err)
	}

	items := make([]any, 0, len(out.Items))
	for _, item := range out.Items {
		items = append(items, item)
	}
	return &models.ParsedDocument{
		OriginalFilePath: src.FilePath,
		DocumentType:     src.DocumentType,
		PONumber:         out.PONumber,
		Items:            items,
		Metadata:         out.Metadata,
		StepStatus:       models.StatusSuccess,
	}, nil
}

// inspect optimizes the PDF in relaxed validation mode and returns its page count.
func (p *PDFParser) inspect(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyFile
	}

	tempDir, err := os.MkdirTemp("", "pdf-parser-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	optimized := filepath.Join(tempDir, "optimized.pdf")
	if err := os.WriteFile(source, data, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(source, optimized, cfg); err != nil {
		return 0, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return pageCount, nil
}

// responseText concatenates the text parts of the first candidate and strips
// a surrounding code fence.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	s := strings.TrimSpace(sb.String())
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
