package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"mai-chat/internal/domain"
	"mai-chat/internal/integrations/openai"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := m.vals[n]
		if !ok {
			return nil, fmt.Errorf("param not found: %s", n)
		}
		out[n] = v
	}
	return out, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameters(ctx context.Context, names ...string) (map[string]string, error) {
	if p.failOnce {
		p.failOnce = false
		return nil, errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameters(ctx, names...)
}

type mockLLM struct {
	answer       string
	chatErr      error
	flagged      bool
	moderateErr  error
	chatCalls    int
	moderateCall int
	model        string
	captured     []domain.ChatMessage
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.chatCalls++
	m.model = model
	m.captured = msgs
	return m.answer, m.chatErr
}

func (m *mockLLM) Moderate(_ context.Context, _ string) (bool, error) {
	m.moderateCall++
	return m.flagged, m.moderateErr
}

type mockQuota struct {
	count    int
	err      error
	clientID string
	calls    int
}

func (m *mockQuota) Increment(_ context.Context, clientID string) (domain.QuotaWindow, error) {
	m.calls++
	m.clientID = clientID
	if m.err != nil {
		return domain.QuotaWindow{}, m.err
	}
	m.count++
	return domain.QuotaWindow{ClientID: clientID, Count: m.count}, nil
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{
		"/prefix/system_prompt":             "You are MAI.",
		"/prefix/config/openai_model":       "gpt-4o-mini",
		"/prefix/config/moderation_enabled": "false",
	}}
}

func hello() ChatInput {
	return ChatInput{Messages: []domain.Turn{domain.UserTurn("Hello")}, ClientID: "1.2.3.4"}
}

func newTestChatService(t *testing.T, p ParamGetter, llm LLMClient, q QuotaCounter, rateLimit int) *ChatService {
	t.Helper()
	svc, err := NewChatService(p, llm, q, "/prefix", 4, rateLimit)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &mockLLM{}, &mockQuota{}, "/prefix", 4, 10)
	require.Error(t, err)

	_, err = NewChatService(defaultParams(), nil, &mockQuota{}, "/prefix", 4, 10)
	require.Error(t, err)

	_, err = NewChatService(defaultParams(), &mockLLM{}, nil, "/prefix", 4, 10)
	require.Error(t, err)

	_, err = NewChatService(defaultParams(), &mockLLM{}, &mockQuota{}, " ", 4, 10)
	require.Error(t, err)

	svc, err := NewChatService(defaultParams(), &mockLLM{}, nil, "/prefix/", 0, 0)
	require.NoError(t, err)
	require.Equal(t, defaultMaxContext, svc.maxContextItems)
	require.Equal(t, "/prefix", svc.paramPrefix)
}

func TestReply_HappyPath(t *testing.T) {
	llm := &mockLLM{answer: "  Hi there  "}
	quota := &mockQuota{}
	svc := newTestChatService(t, defaultParams(), llm, quota, 10)

	out, err := svc.Reply(context.Background(), hello())
	require.NoError(t, err)
	require.Equal(t, "Hi there", out.Response)
	require.Equal(t, "gpt-4o-mini", llm.model)
	require.Equal(t, []domain.ChatMessage{
		{Role: "system", Content: "You are MAI."},
		{Role: "user", Content: "Hello"},
	}, llm.captured)
	require.Equal(t, "1.2.3.4", quota.clientID)
	require.Zero(t, llm.moderateCall)
}

func TestReply_ValidationErrors(t *testing.T) {
	llm := &mockLLM{answer: "unused"}
	svc := newTestChatService(t, defaultParams(), llm, &mockQuota{}, 10)

	_, err := svc.Reply(context.Background(), ChatInput{})
	expectError(t, err, ErrorInvalidInput, "empty_messages")

	_, err = svc.Reply(context.Background(), ChatInput{Messages: []domain.Turn{{Role: "system", Content: "x"}}})
	expectError(t, err, ErrorInvalidInput, "invalid_role")

	_, err = svc.Reply(context.Background(), ChatInput{Messages: []domain.Turn{domain.UserTurn("a"), domain.AssistantTurn("b")}})
	expectError(t, err, ErrorInvalidInput, "last_turn_not_user")

	_, err = svc.Reply(context.Background(), ChatInput{Messages: []domain.Turn{domain.UserTurn("  ")}})
	expectError(t, err, ErrorInvalidInput, "empty_question")

	require.Zero(t, llm.chatCalls)
}

func TestReply_AllowsConsecutiveUserTurns(t *testing.T) {
	llm := &mockLLM{answer: "ok"}
	svc := newTestChatService(t, defaultParams(), llm, nil, 0)

	_, err := svc.Reply(context.Background(), ChatInput{Messages: []domain.Turn{
		domain.UserTurn("Hello"),
		domain.UserTurn("Hello"),
	}})
	require.NoError(t, err)
	require.Len(t, llm.captured, 3)
}

func TestReply_TrimsToContextWindow(t *testing.T) {
	llm := &mockLLM{answer: "ok"}
	svc := newTestChatService(t, defaultParams(), llm, nil, 0)

	turns := []domain.Turn{
		domain.UserTurn("1"), domain.AssistantTurn("2"),
		domain.UserTurn("3"), domain.AssistantTurn("4"),
		domain.UserTurn("5"), domain.AssistantTurn("6"),
		domain.UserTurn("7"),
	}
	_, err := svc.Reply(context.Background(), ChatInput{Messages: turns})
	require.NoError(t, err)
	require.Len(t, llm.captured, 5)
	require.Equal(t, "system", llm.captured[0].Role)
	require.Equal(t, "4", llm.captured[1].Content)
	require.Equal(t, "7", llm.captured[4].Content)
}

func TestReply_QuotaExceeded(t *testing.T) {
	llm := &mockLLM{answer: "ok"}
	quota := &mockQuota{count: 2}
	svc := newTestChatService(t, defaultParams(), llm, quota, 2)

	_, err := svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorRateLimited, "quota_exceeded")
	require.Zero(t, llm.chatCalls)
}

func TestReply_QuotaAnonymousClient(t *testing.T) {
	quota := &mockQuota{}
	svc := newTestChatService(t, defaultParams(), &mockLLM{answer: "ok"}, quota, 5)

	_, err := svc.Reply(context.Background(), ChatInput{Messages: []domain.Turn{domain.UserTurn("Hello")}})
	require.NoError(t, err)
	require.Equal(t, defaultAnonymousKey, quota.clientID)
}

func TestReply_QuotaStoreError(t *testing.T) {
	svc := newTestChatService(t, defaultParams(), &mockLLM{answer: "ok"}, &mockQuota{err: errors.New("dynamodb down")}, 5)
	_, err := svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorInternal, "dynamodb_quota_error")
}

func TestReply_RateLimitDisabledSkipsQuota(t *testing.T) {
	quota := &mockQuota{}
	svc := newTestChatService(t, defaultParams(), &mockLLM{answer: "ok"}, quota, 0)
	_, err := svc.Reply(context.Background(), hello())
	require.NoError(t, err)
	require.Zero(t, quota.calls)
}

func TestReply_LLMErrors(t *testing.T) {
	svc := newTestChatService(t, defaultParams(), &mockLLM{chatErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}, nil, 0)
	_, err := svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorRateLimited, "llm_rate_limited")

	svc = newTestChatService(t, defaultParams(), &mockLLM{chatErr: &openai.HTTPStatusError{StatusCode: http.StatusInternalServerError}}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorUpstream, "llm_error")

	svc = newTestChatService(t, defaultParams(), &mockLLM{chatErr: errors.New("dial tcp: timeout")}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorUpstream, "llm_error")

	svc = newTestChatService(t, defaultParams(), &mockLLM{answer: "   "}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorUpstream, "llm_empty_response")
}

func TestReply_Moderation(t *testing.T) {
	p := defaultParams()
	p.vals["/prefix/config/moderation_enabled"] = "true"

	llm := &mockLLM{answer: "ok", flagged: true}
	svc := newTestChatService(t, p, llm, nil, 0)
	_, err := svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorRejectedContent, "moderation_flagged")
	require.Zero(t, llm.chatCalls)

	svc = newTestChatService(t, p, &mockLLM{moderateErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorRateLimited, "moderation_rate_limited")

	svc = newTestChatService(t, p, &mockLLM{moderateErr: &openai.HTTPStatusError{StatusCode: http.StatusBadGateway}}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorUpstream, "moderation_error")

	llm = &mockLLM{answer: "fine"}
	svc = newTestChatService(t, p, llm, nil, 0)
	out, err := svc.Reply(context.Background(), hello())
	require.NoError(t, err)
	require.Equal(t, "fine", out.Response)
	require.Equal(t, 1, llm.moderateCall)
}

func TestReply_ConfigErrors(t *testing.T) {
	svc := newTestChatService(t, &mockParams{err: errors.New("ssm unavailable")}, &mockLLM{answer: "ok"}, nil, 0)
	_, err := svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorInternal, "ssm_load_error")

	p := defaultParams()
	p.vals["/prefix/config/openai_model"] = " "
	svc = newTestChatService(t, p, &mockLLM{answer: "ok"}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorInternal, "ssm_load_error")

	p = defaultParams()
	p.vals["/prefix/config/moderation_enabled"] = "maybe"
	svc = newTestChatService(t, p, &mockLLM{answer: "ok"}, nil, 0)
	_, err = svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorInternal, "ssm_load_error")
}

func TestReply_ConfigLoadedOnceAndRetriedOnFailure(t *testing.T) {
	p := &transientParams{mockParams: defaultParams(), failOnce: true}
	svc := newTestChatService(t, p, &mockLLM{answer: "ok"}, nil, 0)

	_, err := svc.Reply(context.Background(), hello())
	expectError(t, err, ErrorInternal, "ssm_load_error")

	for i := 0; i < 3; i++ {
		out, err := svc.Reply(context.Background(), hello())
		require.NoError(t, err)
		require.Equal(t, "ok", out.Response)
	}
	require.Equal(t, 1, p.mockParams.calls)
}

func TestBuildPromptMessages_DefaultSystemPrompt(t *testing.T) {
	msgs := buildPromptMessages("  ", []domain.Turn{domain.UserTurn("hi")}, 10)
	require.Equal(t, defaultSystemPrompt, msgs[0].Content)
	require.Len(t, msgs, 2)
}
