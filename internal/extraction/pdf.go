package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PDFText reads the text layer of a PDF with MuPDF.
type PDFText struct{}

// NewPDFText creates a PDFText extractor
func NewPDFText() *PDFText {
	return &PDFText{}
}

// Extract returns the text of every page, each under a "## Page N:" header.
// A document whose pages carry no text at all (a scan without OCR) yields an
// empty string.
func (p *PDFText) Extract(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var (
		b     strings.Builder
		found bool
	)
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i+1, err)
		}
		if strings.TrimSpace(text) != "" {
			found = true
		}
		slog.Debug("Extracted page text", "file", path, "page", i+1, "chars", len(text))
		fmt.Fprintf(&b, "## Page %d:\n%s\n\n---\n\n", i+1, text)
	}

	if !found {
		return "", nil
	}
	return strings.TrimSpace(b.String()), nil
}
