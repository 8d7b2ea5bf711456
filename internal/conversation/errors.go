package conversation

import (
	"fmt"
	"log/slog"
)

// ErrorKind is the failure taxonomy surfaced to the presentation layer.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindTransient   ErrorKind = "TRANSIENT"
	KindFatal       ErrorKind = "FATAL"
)

const (
	rateLimitedMessage = "We've hit our limit for now! Please try again in a few minutes."
	transientMessage   = "Failed to send message. Please try again."
	fatalMessage       = "Oops! Something went wrong. Please try again in a moment!"
)

// ClassifiedError is what a failed dispatch looks like to the caller. The raw
// cause only shows up in logs through LogValue; errors.Unwrap does not reach it.
type ClassifiedError struct {
	Kind        ErrorKind
	UserMessage string

	cause error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("conversation: %s: %s", e.Kind, e.UserMessage)
}

// Retryable reports whether resending the same transcript may succeed.
func (e *ClassifiedError) Retryable() bool {
	return e != nil && e.Kind != KindFatal
}

func (e *ClassifiedError) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{slog.String("kind", string(e.Kind))}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	return slog.GroupValue(attrs...)
}
