package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/Lllllllleong/documentworkflow/internal/models"
)

// MetadataSeparator splits "key：value" metadata rows (full-width colon).
const MetadataSeparator = "："

// TabularParser reads delimited text. Order files may interleave metadata
// rows with data blocks; master-data files are a single header row followed
// by data, returned column by column.
type TabularParser struct {
	Comma rune
}

func NewCSVParser() *TabularParser { return &TabularParser{Comma: ','} }

func NewTXTParser() *TabularParser { return &TabularParser{Comma: '\t'} }

func (p *TabularParser) Parse(_ context.Context, src Source) (*models.ParsedDocument, error) {
	rows, err := p.readRows(src.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src.FileName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", src.FileName, ErrEmptyFile)
	}

	doc := &models.ParsedDocument{
		OriginalFilePath: src.FilePath,
		DocumentType:     src.DocumentType,
		StepStatus:       models.StatusSuccess,
	}

	if src.DocumentType == models.DocumentTypeMasterData {
		doc.Headers, doc.Items = columns(rows)
		return doc, nil
	}

	metadata, items := blocks(rows)
	doc.Items = items
	if len(metadata) > 0 {
		doc.Metadata = metadata
	}
	doc.PONumber = strconv.Itoa(len(items))
	return doc, nil
}

func (p *TabularParser) readRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.Comma = p.Comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	rows := records[:0]
	for _, rec := range records {
		if !blank(rec) {
			rows = append(rows, rec)
		}
	}
	return rows, nil
}

func columns(rows [][]string) ([]string, map[string][]string) {
	headers := rows[0]
	cols := make(map[string][]string, len(headers))
	for _, h := range headers {
		cols[h] = []string{}
	}
	for _, row := range rows[1:] {
		for i, h := range headers {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cols[h] = append(cols[h], v)
		}
	}
	return headers, cols
}

// blocks walks metadata rows and header/data blocks in order.
func blocks(rows [][]string) (map[string]any, []map[string]string) {
	metadata := map[string]any{}
	var items []map[string]string

	for i := 0; i < len(rows); {
		if key, value, ok := metadataRow(rows[i]); ok {
			metadata[key] = value
			i++
			continue
		}

		header := rows[i]
		if !likelyHeader(header) {
			header = generatedHeader(len(rows[i]))
		} else {
			i++
		}
		for ; i < len(rows); i++ {
			if _, _, ok := metadataRow(rows[i]); ok {
				break
			}
			items = append(items, zipRow(header, rows[i]))
		}
	}
	return metadata, items
}

func metadataRow(row []string) (string, string, bool) {
	if len(row) != 1 {
		return "", "", false
	}
	key, value, ok := strings.Cut(row[0], MetadataSeparator)
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// likelyHeader reports whether no cell of row parses as a number.
func likelyHeader(row []string) bool {
	for _, cell := range row {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			return false
		}
	}
	return true
}

func generatedHeader(n int) []string {
	header := make([]string, n)
	for i := range header {
		header[i] = fmt.Sprintf("col_%d", i+1)
	}
	return header
}

func zipRow(header, row []string) map[string]string {
	item := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(row) {
			item[h] = row[i]
		} else {
			item[h] = ""
		}
	}
	return item
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
