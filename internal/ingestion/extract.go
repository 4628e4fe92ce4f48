package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageText is one page (or the whole file for plain-text formats) of
// extracted document content.
type pageText struct {
	// page is the 1-based page number, 0 for formats without pages.
	page int
	// text is the extracted plain text.
	text string
}

// extract returns the text content of a document file, split per page for
// PDFs. Unsupported extensions return an error so the walker can skip them
// explicitly.
func extract(path string) ([]pageText, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".txt", ".md":
		return extractPlain(path)
	default:
		return nil, fmt.Errorf("ingestion: unsupported file type %q", filepath.Ext(path))
	}
}

// extractPDF pulls the plain text of every page. Pages that fail text
// extraction (scanned images, malformed streams) are skipped rather than
// failing the whole file.
func extractPDF(path string) ([]pageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var pages []pageText
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, pageText{page: i, text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("ingestion: no extractable text in %s", path)
	}
	return pages, nil
}

// extractPlain reads a text or markdown file as a single page.
func extractPlain(path string) ([]pageText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("ingestion: %s is empty", path)
	}
	return []pageText{{page: 0, text: text}}, nil
}
