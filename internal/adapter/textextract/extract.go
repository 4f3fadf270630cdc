// Package textextract turns uploaded document bytes into plain text.
//
// Dispatch is an exhaustive switch over a closed set of supported formats so
// that adding a format is a compile-time-checked change, not a lookup-table
// edit. Parse failures are returned as errors, never as silent empty text.
package textextract

import (
	"context"
	"fmt"
	"strings"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/textx"
)

// Format is the supported document format set.
type Format int

const (
	FormatPlainText Format = iota
	FormatPDF
	FormatDOCX
)

const mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// FormatFromMIME maps a sniffed MIME type (parameters allowed) onto the
// format enum. ok is false for anything outside the allow-list.
func FormatFromMIME(mimeType string) (Format, bool) {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(m, ";"); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch {
	case strings.HasPrefix(m, "text/"):
		return FormatPlainText, true
	case m == "application/pdf":
		return FormatPDF, true
	case m == mimeDOCX:
		return FormatDOCX, true
	}
	return 0, false
}

// Extractor implements domain.TextExtractor with local, stateless parsing.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract converts data to sanitized plain text keyed on the declared MIME
// type. Unrecognized types return domain.ErrUnsupportedFormat; malformed
// documents return a parse error.
func (e *Extractor) Extract(_ context.Context, data []byte, mimeType string) (string, error) {
	f, ok := FormatFromMIME(mimeType)
	if !ok {
		return "", fmt.Errorf("op=extract: %w: %s", domain.ErrUnsupportedFormat, mimeType)
	}
	switch f {
	case FormatPlainText:
		return textx.SanitizeText(string(data)), nil
	case FormatPDF:
		text, err := extractPDF(data)
		if err != nil {
			return "", fmt.Errorf("op=extract.pdf: %w", err)
		}
		return textx.SanitizeText(text), nil
	case FormatDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return "", fmt.Errorf("op=extract.docx: %w", err)
		}
		return textx.SanitizeText(text), nil
	}
	// Unreachable while the switch above covers every Format value.
	return "", fmt.Errorf("op=extract: %w: format %d", domain.ErrUnsupportedFormat, f)
}
