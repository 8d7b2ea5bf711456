package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code int
	msg  string
}

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d: %s", e.code, e.msg) }
func (e *statusErr) HTTPStatusCode() int { return e.code }
func (e *statusErr) Description() string { return e.msg }

type transportErr struct{ err error }

func (e *transportErr) Error() string        { return "transport: " + e.err.Error() }
func (e *transportErr) Unwrap() error        { return e.err }
func (e *transportErr) TransportFault() bool { return true }

func TestClassify_429IsAlwaysRateLimited(t *testing.T) {
	for _, msg := range []string{"", "quota", "internal explosion", "totally unrelated"} {
		got := Classify(&statusErr{code: 429, msg: msg})
		require.Equal(t, KindRateLimited, got.Kind, "msg=%q", msg)
		require.Equal(t, rateLimitedMessage, got.UserMessage)
	}
}

func TestClassify_429WrappedIsRateLimited(t *testing.T) {
	err := fmt.Errorf("backend: request failed: %w", &statusErr{code: 429})
	require.Equal(t, KindRateLimited, Classify(err).Kind)
}

func TestClassify_TransportFaultIsTransient(t *testing.T) {
	cases := []error{
		&transportErr{err: errors.New("connection refused")},
		&transportErr{err: errors.New("429 quota in the message")},
		context.DeadlineExceeded,
		fmt.Errorf("wrapped: %w", context.Canceled),
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")},
	}
	for _, err := range cases {
		got := Classify(err)
		require.Equal(t, KindTransient, got.Kind, "err=%v", err)
		require.Equal(t, transientMessage, got.UserMessage)
		require.True(t, got.Retryable())
	}
}

func TestClassify_StatusBeatsMessageSniffing(t *testing.T) {
	got := Classify(&statusErr{code: 500, msg: "quota exceeded upstream"})
	require.Equal(t, KindFatal, got.Kind)
	require.Equal(t, "quota exceeded upstream", got.UserMessage)
}

func TestClassify_MessageFallbackWithoutStatus(t *testing.T) {
	require.Equal(t, KindRateLimited, Classify(errors.New("upstream said 429")).Kind)
	require.Equal(t, KindRateLimited, Classify(errors.New("Quota exhausted")).Kind)
	require.Equal(t, KindRateLimited, Classify(errors.New("Too Many Requests")).Kind)
}

func TestClassify_FatalMessages(t *testing.T) {
	got := Classify(&statusErr{code: 500, msg: "model overloaded"})
	require.Equal(t, KindFatal, got.Kind)
	require.Equal(t, "model overloaded", got.UserMessage)
	require.False(t, got.Retryable())

	got = Classify(&statusErr{code: 400, msg: "   "})
	require.Equal(t, fatalMessage, got.UserMessage)

	got = Classify(errors.New("decode response: unexpected EOF"))
	require.Equal(t, KindFatal, got.Kind)
	require.Equal(t, fatalMessage, got.UserMessage)
}

func TestClassify_NilIsFatal(t *testing.T) {
	got := Classify(nil)
	require.NotNil(t, got)
	require.Equal(t, KindFatal, got.Kind)
}

func TestClassifiedError_DoesNotExposeCause(t *testing.T) {
	cause := &statusErr{code: 502, msg: "bad gateway"}
	got := Classify(cause)

	var target *statusErr
	require.False(t, errors.As(got, &target))
	require.Contains(t, got.Error(), "FATAL")
}

func TestClassifiedError_LogValueCarriesCause(t *testing.T) {
	got := Classify(&statusErr{code: 502, msg: "bad gateway"})

	v := got.LogValue()
	require.Equal(t, slog.KindGroup, v.Kind())
	attrs := v.Group()
	require.Len(t, attrs, 2)
	require.Equal(t, "FATAL", attrs[0].Value.String())
	require.Equal(t, "status 502: bad gateway", attrs[1].Value.String())
}
