package conversation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// transportFault is implemented by dispatcher errors raised when no response
// was received at all.
type transportFault interface {
	TransportFault() bool
}

type describer interface {
	Description() string
}

var rateLimitHints = []string{"429", "quota", "rate limit", "too many requests"}

// Classify maps a dispatcher failure to exactly one ClassifiedError. A 429
// status always wins; message sniffing is only consulted when the failure
// carries no status at all.
func Classify(err error) *ClassifiedError {
	status, hasStatus := statusCode(err)

	switch {
	case hasStatus && status == http.StatusTooManyRequests:
		return &ClassifiedError{Kind: KindRateLimited, UserMessage: rateLimitedMessage, cause: err}
	case isTransportFault(err):
		return &ClassifiedError{Kind: KindTransient, UserMessage: transientMessage, cause: err}
	case !hasStatus && mentionsRateLimit(err):
		return &ClassifiedError{Kind: KindRateLimited, UserMessage: rateLimitedMessage, cause: err}
	}

	msg := fatalMessage
	var d describer
	if errors.As(err, &d) {
		if desc := strings.TrimSpace(d.Description()); desc != "" {
			msg = desc
		}
	}
	return &ClassifiedError{Kind: KindFatal, UserMessage: msg, cause: err}
}

func statusCode(err error) (int, bool) {
	var sc httpStatusCoder
	if err == nil || !errors.As(err, &sc) {
		return 0, false
	}
	return sc.HTTPStatusCode(), true
}

func isTransportFault(err error) bool {
	if err == nil {
		return false
	}
	var tf transportFault
	if errors.As(err, &tf) && tf.TransportFault() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func mentionsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, hint := range rateLimitHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}
