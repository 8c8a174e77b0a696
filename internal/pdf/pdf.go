// Package pdf extracts plain text from uploaded PDF documents.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"
)

// Extraction failure modes.
var (
	ErrNotPDF  = errors.New("file is not a PDF")
	ErrNoText  = errors.New("no extractable text in PDF")
	ErrExtract = errors.New("PDF extraction failed")
)

var pdfMagic = []byte("%PDF-")

// IsPDF checks the extension and the file header magic. A renamed
// text file with a .pdf extension is rejected.
func IsPDF(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, pdfMagic)
}

// Extract returns the concatenated plain text of all pages. Pages that
// fail to decode are skipped; only a document with no recoverable text
// at all is an error.
func Extract(path string) (string, error) {
	if !IsPDF(path) {
		return "", ErrNotPDF
	}

	f, reader, err := ledongthuc.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtract, err)
	}
	defer f.Close()

	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrNoText
	}
	return out, nil
}
