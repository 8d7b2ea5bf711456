package usecase

import (
	"context"
	"errors"
	"unicode/utf8"

	"mai-chat/internal/domain"
)

// PDFExtractor converts a PDF document to plain text.
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

type ExtractService struct {
	pdf      PDFExtractor
	maxBytes int64
}

type ExtractInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExtractOutput struct {
	Content string
}

func NewExtractService(pdf PDFExtractor, maxBytes int64) (*ExtractService, error) {
	if pdf == nil {
		return nil, errors.New("usecase: pdf extractor must not be nil")
	}
	if maxBytes <= 0 {
		maxBytes = domain.MaxUploadBytes
	}
	return &ExtractService{pdf: pdf, maxBytes: maxBytes}, nil
}

// MaxBytes is the upload size limit the service enforces.
func (s *ExtractService) MaxBytes() int64 {
	return s.maxBytes
}

// Extract validates the upload before doing any parsing work.
func (s *ExtractService) Extract(ctx context.Context, in ExtractInput) (ExtractOutput, error) {
	if len(in.Data) == 0 {
		return ExtractOutput{}, newError(ErrorInvalidInput, "no_file", nil)
	}
	if !domain.AllowedContentType(in.ContentType) {
		return ExtractOutput{}, newError(ErrorInvalidInput, "unsupported_type", nil)
	}
	if int64(len(in.Data)) > s.maxBytes {
		return ExtractOutput{}, newError(ErrorInvalidInput, "file_too_large", nil)
	}

	switch domain.NormalizeContentType(in.ContentType) {
	case domain.ContentTypePDF:
		text, err := s.pdf.ExtractText(ctx, in.Data)
		if err != nil {
			return ExtractOutput{}, newError(ErrorInvalidInput, "pdf_parse_error", err)
		}
		return ExtractOutput{Content: text}, nil
	default:
		if !utf8.Valid(in.Data) {
			return ExtractOutput{}, newError(ErrorInvalidInput, "invalid_text_encoding", nil)
		}
		return ExtractOutput{Content: string(in.Data)}, nil
	}
}
