package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"mai-chat/internal/domain"
	"mai-chat/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	uploadField       = "file"

	rateLimitMessage = "We've hit our limit for now! Please try again in a few minutes."
	genericMessage   = "Oops! Something went wrong. Please try again in a moment!"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
}

type ChatUseCase interface {
	Reply(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type ExtractUseCase interface {
	Extract(ctx context.Context, in usecase.ExtractInput) (usecase.ExtractOutput, error)
	MaxBytes() int64
}

type Handler struct {
	chat    ChatUseCase
	extract ExtractUseCase
	logger  *slog.Logger
}

type chatRequest struct {
	Messages []domain.Turn `json:"messages"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type extractResponse struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message"`
	IsRateLimit bool   `json:"isRateLimit,omitempty"`
}

func NewHandler(chat ChatUseCase, extract ExtractUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if extract == nil {
		return nil, errors.New("handler: extract use case must not be nil")
	}
	return &Handler{chat: chat, extract: extract, logger: slog.Default()}, nil
}

// Handle routes API Gateway proxy events to the chat and extraction use cases.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path)

	if event.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, correlationID, ""), nil
	}
	if event.HTTPMethod != http.MethodPost {
		return h.errorResponse(logger, correlationID, http.StatusMethodNotAllowed, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Reason:  "method_not_allowed",
			Message: genericMessage,
		}, nil), nil
	}

	switch route(event.Path) {
	case "chat":
		return h.handleChat(ctx, logger, correlationID, event), nil
	case "extract":
		return h.handleExtract(ctx, logger, correlationID, event), nil
	default:
		return h.errorResponse(logger, correlationID, http.StatusNotFound, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Reason:  "unknown_route",
			Message: genericMessage,
		}, nil), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, correlationID string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body, err := requestBody(event)
	if err != nil {
		return h.useCaseError(logger, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return h.useCaseError(logger, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err})
	}

	out, err := h.chat.Reply(ctx, usecase.ChatInput{
		Messages: req.Messages,
		ClientID: event.RequestContext.Identity.SourceIP,
	})
	if err != nil {
		return h.useCaseError(logger, correlationID, err)
	}
	logger.Info("chat answered", "turns", len(req.Messages))
	return respondJSON(http.StatusOK, correlationID, chatResponse{Response: out.Response})
}

func (h *Handler) handleExtract(ctx context.Context, logger *slog.Logger, correlationID string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	in, err := h.readUpload(event)
	if err != nil {
		return h.useCaseError(logger, correlationID, err)
	}

	out, err := h.extract.Extract(ctx, in)
	if err != nil {
		return h.useCaseError(logger, correlationID, err)
	}
	logger.Info("content extracted", "filename", in.Filename, "content_type", in.ContentType, "bytes", len(in.Data))
	return respondJSON(http.StatusOK, correlationID, extractResponse{Content: out.Content})
}

// readUpload pulls the "file" part out of a multipart body. A missing part
// yields an empty ExtractInput so the use case reports no_file.
func (h *Handler) readUpload(event events.APIGatewayProxyRequest) (usecase.ExtractInput, error) {
	mediaType, params, err := mime.ParseMediaType(headerValue(event.Headers, "Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return usecase.ExtractInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "no_file", Err: err}
	}
	body, err := requestBody(event)
	if err != nil {
		return usecase.ExtractInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}

	limit := h.extract.MaxBytes()
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return usecase.ExtractInput{}, nil
		}
		if err != nil {
			return usecase.ExtractInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_multipart", Err: err}
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		// One byte past the limit is enough for the use case to reject it.
		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		_ = part.Close()
		if err != nil {
			return usecase.ExtractInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_multipart", Err: err}
		}
		return usecase.ExtractInput{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}
}

func (h *Handler) useCaseError(logger *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return h.errorResponse(logger, correlationID, http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Reason:  "unexpected_error",
			Message: genericMessage,
		}, err)
	}

	resp := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason, Message: genericMessage}
	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
		resp.Message = invalidInputMessage(ucErr.Reason)
	case usecase.ErrorRejectedContent:
		status = http.StatusUnprocessableEntity
		resp.Message = "That message can't be answered. Please rephrase and try again."
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
		resp.Message = rateLimitMessage
		resp.IsRateLimit = true
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	return h.errorResponse(logger, correlationID, status, resp, err)
}

func invalidInputMessage(reason string) string {
	switch reason {
	case "no_file":
		return "No file uploaded"
	case "unsupported_type":
		return "Only text and PDF files are supported."
	case "file_too_large":
		return "File is too large."
	case "pdf_parse_error":
		return "Could not read text from that PDF."
	default:
		return "Invalid request."
	}
}

func (h *Handler) errorResponse(logger *slog.Logger, correlationID string, status int, body errorResponse, cause error) events.APIGatewayProxyResponse {
	attrs := []any{"status", status, "code", body.Error, "reason", body.Reason}
	if cause != nil {
		attrs = append(attrs, "err", cause)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}
	return respondJSON(status, correlationID, body)
}

func respondJSON(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		return respond(http.StatusInternalServerError, correlationID, `{"error":"INTERNAL_ERROR","message":"`+genericMessage+`"}`)
	}
	return respond(status, correlationID, string(b))
}

func respond(status int, correlationID, body string) events.APIGatewayProxyResponse {
	headers := map[string]string{correlationHeader: correlationID}
	for k, v := range corsHeaders {
		headers[k] = v
	}
	if body != "" {
		headers["Content-Type"] = "application/json"
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}

func requestBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		return []byte(event.Body), nil
	}
	return base64.StdEncoding.DecodeString(event.Body)
}

// route reduces a proxy path such as "/prod/functions/v1/chat" to its last
// segment.
func route(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
