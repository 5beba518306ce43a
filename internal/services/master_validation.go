package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
)

// TimestampLayout is the accepted format of "timestamp" master-data columns.
const TimestampLayout = "20060102"

// HeaderValidation checks the parsed headers against the backend header reference.
func (p *FileProcessor) HeaderValidation(ctx context.Context, sctx *steps.Context, args steps.Args) *steps.Pending {
	doc, inputErr := parsedInput(args)
	table := sctx.File.FileNameWoExt
	logCtx := p.logger.With("requestId", sctx.Tracking.RequestID, "table", table)

	return steps.Go(ctx, func(ctx context.Context) (any, error) {
		if inputErr != nil {
			return nil, inputErr
		}
		refs, err := p.references.HeaderReferences(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch header reference for %s: %w", table, err)
		}

		result := ValidateHeaders(doc, refs)
		logCtx.Info("Header validation finished.", "status", result.StepStatus.String(), "messages", len(result.Messages))
		return documentOutput(result), nil
	})
}

// DataValidation checks every column value against the backend data reference.
func (p *FileProcessor) DataValidation(ctx context.Context, sctx *steps.Context, args steps.Args) *steps.Pending {
	doc, inputErr := parsedInput(args)
	table := sctx.File.FileNameWoExt
	logCtx := p.logger.With("requestId", sctx.Tracking.RequestID, "table", table)

	return steps.Go(ctx, func(ctx context.Context) (any, error) {
		if inputErr != nil {
			return nil, inputErr
		}
		refs, err := p.references.DataReferences(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch data reference for %s: %w", table, err)
		}

		result := ValidateData(doc, refs)
		logCtx.Info("Data validation finished.", "status", result.StepStatus.String(), "messages", len(result.Messages))
		return documentOutput(result), nil
	})
}

// ValidateHeaders compares headers position by position. The input is not
// modified; the returned copy is FAILED when any position mismatches.
func ValidateHeaders(doc *models.ParsedDocument, refs []models.HeaderReference) *models.ParsedDocument {
	out := doc.Clone()
	out.Messages = nil

	sorted := append([]models.HeaderReference(nil), refs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PosIdx < sorted[j].PosIdx })

	var messages []string
	if len(doc.Headers) != len(sorted) {
		messages = append(messages, fmt.Sprintf("Header count mismatch: expected %d, got %d", len(sorted), len(doc.Headers)))
	}
	for _, ref := range sorted {
		if ref.PosIdx < 0 || ref.PosIdx >= len(doc.Headers) {
			messages = append(messages, fmt.Sprintf("Mismatch at position %d: expected %q, got nothing", ref.PosIdx, ref.Name))
			continue
		}
		got := strings.TrimSpace(doc.Headers[ref.PosIdx])
		if got != ref.Name {
			messages = append(messages, fmt.Sprintf("Mismatch at position %d: expected %q, got %q", ref.PosIdx, ref.Name, got))
		}
	}

	if len(messages) > 0 {
		out.Fail(messages...)
		return out
	}
	out.StepStatus = models.StatusSuccess
	return out
}

// ValidateData checks each referenced column for presence, nullability,
// length and datatype.
func ValidateData(doc *models.ParsedDocument, refs []models.DataReference) *models.ParsedDocument {
	out := doc.Clone()
	out.Messages = nil

	cols, ok := columnValues(doc.Items)
	if !ok {
		out.Fail(fmt.Sprintf("Items are not in column layout: %T", doc.Items))
		return out
	}

	var messages []string
	for _, ref := range refs {
		values, ok := cols[ref.Name]
		if !ok {
			messages = append(messages, fmt.Sprintf("Missing column: %s", ref.Name))
			continue
		}
		messages = append(messages, validateColumn(ref, values)...)
	}

	if len(messages) > 0 {
		out.Fail(messages...)
		return out
	}
	out.StepStatus = models.StatusSuccess
	return out
}

func validateColumn(ref models.DataReference, values []string) []string {
	var messages []string
	for i, raw := range values {
		row := i + 1
		v := strings.TrimSpace(raw)

		if v == "" {
			if ref.Nullable != nil && !*ref.Nullable {
				messages = append(messages, fmt.Sprintf("Column %s row %d: null value not allowed", ref.Name, row))
			}
			continue
		}
		if ref.MaxLength != nil && utf8.RuneCountInString(v) > *ref.MaxLength {
			messages = append(messages, fmt.Sprintf("Column %s row %d: value %q exceeds max length %d", ref.Name, row, v, *ref.MaxLength))
		}

		valid, known := checkType(ref.DataType, v)
		if !known {
			return append(messages, fmt.Sprintf("Column %s: unsupported datatype %q", ref.Name, ref.DataType))
		}
		if !valid {
			messages = append(messages, fmt.Sprintf("Column %s row %d: invalid value %q for type %s", ref.Name, row, v, ref.DataType))
		}
	}
	return messages
}

func checkType(dataType, v string) (valid, known bool) {
	switch strings.ToLower(dataType) {
	case "", "string":
		return true, true
	case "int":
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil, true
	case "float":
		_, err := strconv.ParseFloat(v, 64)
		return err == nil, true
	case "timestamp":
		_, err := time.Parse(TimestampLayout, v)
		return err == nil, true
	}
	return false, false
}

// columnValues accepts the columnar item layout either as produced by the
// parsers or as decoded back from a stored artifact.
func columnValues(items any) (map[string][]string, bool) {
	switch v := items.(type) {
	case map[string][]string:
		return v, true
	case map[string]any:
		cols := make(map[string][]string, len(v))
		for name, raw := range v {
			list, ok := raw.([]any)
			if !ok {
				return nil, false
			}
			values := make([]string, len(list))
			for i, cell := range list {
				if cell != nil {
					values[i] = fmt.Sprint(cell)
				}
			}
			cols[name] = values
		}
		return cols, true
	}
	return nil, false
}
