// Package parsers turns raw input files into ParsedDocuments.
package parsers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentworkflow/internal/models"
)

var (
	ErrNoParser  = errors.New("no parser registered for extension")
	ErrEmptyFile = errors.New("file has no content")
)

// Source is one file handed to a parser.
type Source struct {
	FilePath     string
	FileName     string
	Extension    string
	DocumentType models.DocumentType
	Data         []byte
	// URI is set when the file lives in object storage (gs://bucket/key).
	URI string
}

type Parser interface {
	Parse(ctx context.Context, src Source) (*models.ParsedDocument, error)
}

// Set selects a parser by file extension.
type Set struct {
	parsers map[string]Parser
}

func NewSet() *Set {
	return &Set{parsers: make(map[string]Parser)}
}

// Register binds parser to each extension (".csv", ".txt", ...).
func (s *Set) Register(parser Parser, extensions ...string) {
	for _, ext := range extensions {
		s.parsers[strings.ToLower(ext)] = parser
	}
}

func (s *Set) Parse(ctx context.Context, src Source) (*models.ParsedDocument, error) {
	p, ok := s.parsers[strings.ToLower(src.Extension)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoParser, src.Extension)
	}
	return p.Parse(ctx, src)
}
