// Package ingestion extracts report text from uploaded PDF documents.
package ingestion

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText reads a PDF file and returns its plain text content.
// Returns an error when the file cannot be parsed or contains no extractable
// text (empty, password-protected, or image-only documents).
func ExtractText(path string) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse PDF %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if reader.NumPage() == 0 {
		return "", fmt.Errorf("PDF %s has no pages", path)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract text from %s: %w", path, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read extracted text from %s: %w", path, err)
	}

	cleaned := collapseBlankLines(buf.String())
	if strings.TrimSpace(cleaned) == "" {
		return "", fmt.Errorf("no extractable text in %s (empty, protected, or image-only)", path)
	}

	return cleaned, nil
}

// collapseBlankLines squeezes runs of blank lines down to single newlines.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	return strings.TrimSpace(s)
}
