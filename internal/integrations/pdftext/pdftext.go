// Package pdftext pulls plain text out of PDF documents.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor reads PDFs held in memory. The zero value is ready to use.
type Extractor struct {
	// MaxTextBytes caps the extracted text; zero means no cap.
	MaxTextBytes int64
}

func New(maxTextBytes int64) *Extractor {
	return &Extractor{MaxTextBytes: maxTextBytes}
}

func (e *Extractor) ExtractText(ctx context.Context, data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", errors.New("pdftext: document is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdftext: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdftext: open document: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdftext: read text: %w", err)
	}

	var src io.Reader = plain
	if e.MaxTextBytes > 0 {
		src = io.LimitReader(plain, e.MaxTextBytes)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, src); err != nil {
		return "", fmt.Errorf("pdftext: copy text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
