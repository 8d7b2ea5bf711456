package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"mai-chat/internal/conversation"
	"mai-chat/internal/domain"
)

const correlationHeader = "X-Correlation-Id"

// chatRequest is the request body of the backend chat endpoint.
type chatRequest struct {
	Messages []domain.Turn `json:"messages"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

// errorPayload covers both the current backend error body and the older
// {error, friendly} shape.
type errorPayload struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Friendly string `json:"friendly"`
}

// StatusError is returned when the backend answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	URL        string
	Code       string
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: unexpected status %d (%s) from %s: %s", e.StatusCode, e.Code, e.URL, e.Body)
	}
	return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Description is the user-facing text the backend attached to the failure.
func (e *StatusError) Description() string {
	return e.Message
}

// TransportError is returned when no response was received.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend: request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) TransportFault() bool {
	return true
}

// Client talks to the chat backend. It holds no conversation state: every
// Dispatch carries the whole transcript.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxUploadBytes int64
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxUploadBytes = n
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	c := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		maxUploadBytes: domain.MaxUploadBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Dispatch sends the transcript to /chat and returns the assistant reply.
// It performs exactly one round trip.
func (c *Client) Dispatch(ctx context.Context, turns []domain.Turn) (string, error) {
	body, err := json.Marshal(chatRequest{Messages: turns})
	if err != nil {
		return "", fmt.Errorf("backend: marshal chat request: %w", err)
	}

	url := c.baseURL + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("backend: create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlationHeader, correlationID(ctx))

	raw, err := c.do(req, url)
	if err != nil {
		return "", err
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("backend: decode chat response: %w", err)
	}
	if payload.Response == nil {
		return "", errors.New("backend: chat response missing response field")
	}
	return *payload.Response, nil
}

// Extract uploads a file to /extract after applying the upload policy
// locally, and returns the extracted text.
func (c *Client) Extract(ctx context.Context, filename, contentType string, data []byte) (domain.ExtractedContent, error) {
	if !domain.AllowedContentType(contentType) {
		return domain.ExtractedContent{}, fmt.Errorf("backend: unsupported content type %q: %w", contentType, ErrUnsupportedType)
	}
	if int64(len(data)) > c.maxUploadBytes {
		return domain.ExtractedContent{}, fmt.Errorf("backend: file is %d bytes, limit is %d: %w", len(data), c.maxUploadBytes, ErrFileTooLarge)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", domain.NormalizeContentType(contentType))
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("backend: create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("backend: write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("backend: close multipart writer: %w", err)
	}

	url := c.baseURL + "/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("backend: create extract request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(correlationHeader, correlationID(ctx))

	raw, err := c.do(req, url)
	if err != nil {
		return domain.ExtractedContent{}, err
	}

	var out domain.ExtractedContent
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("backend: decode extract response: %w", err)
	}
	return out, nil
}

var (
	ErrUnsupportedType = errors.New("only text/plain and application/pdf files are supported")
	ErrFileTooLarge    = errors.New("file exceeds the upload limit")
)

func (c *Client) do(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, newStatusError(res.StatusCode, url, buf)
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}
	return buf, nil
}

func newStatusError(status int, url string, body []byte) *StatusError {
	se := &StatusError{StatusCode: status, URL: url, Body: string(body)}
	var p errorPayload
	if json.Unmarshal(body, &p) == nil {
		se.Code = p.Error
		switch {
		case p.Message != "":
			se.Message = p.Message
		case p.Friendly != "":
			se.Message = p.Friendly
		}
	}
	return se
}

func correlationID(ctx context.Context) string {
	if id, ok := conversation.RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.NewString()
}
