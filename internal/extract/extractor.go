// Package extract provides text extraction from various document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrCorrupt means the content could not be parsed as the declared format.
	ErrCorrupt = errors.New("extract: corrupt or unreadable content")
	// ErrUnsupported means no extractor handles the format.
	ErrUnsupported = errors.New("extract: unsupported format")
)

// Page is one unit of extracted text. Number is the 1-based page (or slide, or
// sheet) number, or 0 when the format has no pages.
type Page struct {
	Number int
	Text   string
}

// Result is the output of one extraction.
type Result struct {
	Pages    []Page
	Metadata map[string]interface{}
}

// Text returns all page text joined by newlines.
func (r *Result) Text() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// Empty reports whether the result has no non-whitespace text.
func (r *Result) Empty() bool {
	for _, p := range r.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and extracts its text.
func (e *Extractor) Extract(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Parse failures wrap ErrCorrupt.
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Result, error) {
	ext = strings.ToLower(ext)
	var (
		pages []Page
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = extractPDF(content)
	case ".docx":
		pages, err = single(extractDOCX(content))
	case ".xlsx":
		pages, err = extractExcel(content)
	case ".pptx":
		pages, err = extractPPTX(content)
	case ".odp":
		pages, err = single(extractODP(content))
	case ".ods":
		pages, err = single(extractODS(content))
	case ".doc", ".xls", ".ppt":
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	default:
		// Unknown extension: treat as plain text
		pages, err = single(extractPlain(content))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	meta := map[string]interface{}{
		"format": strings.TrimPrefix(ext, "."),
	}
	if n := countNumbered(pages); n > 0 {
		meta["page_count"] = n
	}
	return &Result{Pages: pages, Metadata: meta}, nil
}

func single(text string, err error) ([]Page, error) {
	if err != nil {
		return nil, err
	}
	return []Page{{Text: text}}, nil
}

func countNumbered(pages []Page) int {
	n := 0
	for _, p := range pages {
		if p.Number > 0 {
			n++
		}
	}
	return n
}
