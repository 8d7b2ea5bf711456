package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mai-chat/internal/domain"
)

const (
	defaultMaxContext   = 50
	defaultAnonymousKey = "anonymous"
)

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type QuotaCounter interface {
	Increment(ctx context.Context, clientID string) (domain.QuotaWindow, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService answers one transcript per call. It is stateless apart from
// the cached parameter store configuration.
type ChatService struct {
	params          ParamGetter
	llm             LLMClient
	quota           QuotaCounter
	paramPrefix     string
	maxContextItems int
	rateLimit       int

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	model        string
	moderation   bool
}

type ChatInput struct {
	Messages []domain.Turn
	ClientID string
}

type ChatOutput struct {
	Response string
}

// NewChatService wires the service. rateLimit is the number of requests a
// client may make per quota window; zero or less disables the check.
func NewChatService(p ParamGetter, llm LLMClient, q QuotaCounter, paramPrefix string, maxContextItems, rateLimit int) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if q == nil && rateLimit > 0 {
		return nil, errors.New("usecase: quota counter must not be nil when rate limiting is enabled")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultMaxContext
	}
	return &ChatService{
		params:          p,
		llm:             llm,
		quota:           q,
		paramPrefix:     paramPrefix,
		maxContextItems: maxContextItems,
		rateLimit:       rateLimit,
	}, nil
}

func (s *ChatService) Reply(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if err := validateTranscript(in.Messages); err != nil {
		return ChatOutput{}, err
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	if s.rateLimit > 0 {
		clientID := strings.TrimSpace(in.ClientID)
		if clientID == "" {
			clientID = defaultAnonymousKey
		}
		window, err := s.quota.Increment(ctx, clientID)
		if err != nil {
			return ChatOutput{}, newError(ErrorInternal, "dynamodb_quota_error", err)
		}
		if window.Count > s.rateLimit {
			return ChatOutput{}, newError(ErrorRateLimited, "quota_exceeded", nil)
		}
	}

	question := in.Messages[len(in.Messages)-1].Content
	if s.moderation {
		flagged, err := s.llm.Moderate(ctx, question)
		if err != nil {
			if isRateLimited(err) {
				return ChatOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
			}
			return ChatOutput{}, newError(ErrorUpstream, "moderation_error", err)
		}
		if flagged {
			return ChatOutput{}, newError(ErrorRejectedContent, "moderation_flagged", nil)
		}
	}

	answer, err := s.llm.Chat(ctx, s.model, buildPromptMessages(s.systemPrompt, in.Messages, s.maxContextItems))
	if err != nil {
		if isRateLimited(err) {
			return ChatOutput{}, newError(ErrorRateLimited, "llm_rate_limited", err)
		}
		return ChatOutput{}, newError(ErrorUpstream, "llm_error", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ChatOutput{}, newError(ErrorUpstream, "llm_empty_response", nil)
	}
	return ChatOutput{Response: answer}, nil
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	promptName := s.paramPrefix + "/system_prompt"
	modelName := s.paramPrefix + "/config/openai_model"
	moderationName := s.paramPrefix + "/config/moderation_enabled"

	values, err := s.params.GetParameters(ctx, promptName, modelName, moderationName)
	if err != nil {
		return fmt.Errorf("usecase: load chat config: %w", err)
	}
	model := strings.TrimSpace(values[modelName])
	if model == "" {
		return errors.New("usecase: openai model parameter is empty")
	}
	moderation, err := strconv.ParseBool(strings.TrimSpace(values[moderationName]))
	if err != nil {
		return fmt.Errorf("usecase: parse moderation flag: %w", err)
	}

	s.systemPrompt = values[promptName]
	s.model = model
	s.moderation = moderation
	s.cacheLoaded = true
	return nil
}

func isRateLimited(err error) bool {
	status, ok := upstreamStatusCode(err)
	return ok && status == 429
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
