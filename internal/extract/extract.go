// Package extract implements the text extractor (C3): a MIME-dispatched
// conversion from raw uploaded bytes to plain text, ready for chunking.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Extract converts raw file bytes to plain text based on mime type.
// Plaintext/markdown/CSV decode directly, DOCX and PDF route through
// dedicated parsers, and images return an error since this adapter does
// not perform OCR.
func Extract(data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("extract.Extract: empty file")
	}

	switch mime {
	case "text/plain", "text/csv", "text/markdown":
		return extractPlainText(data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return extractDocx(data)
	case "application/pdf":
		return extractPDF(data)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "", fmt.Errorf("extract.Extract: spreadsheet extraction is not supported")
	case "image/png", "image/jpeg":
		return "", fmt.Errorf("extract.Extract: image OCR is not supported by this build")
	default:
		return "", fmt.Errorf("extract.Extract: unsupported mime type %q", mime)
	}
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("extract.extractPlainText: file is not valid UTF-8")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("extract.extractPlainText: file is empty after trimming")
	}
	return text, nil
}
