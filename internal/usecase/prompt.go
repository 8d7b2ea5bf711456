package usecase

import (
	"strings"

	"mai-chat/internal/domain"
)

const defaultSystemPrompt = "You are MAI, a friendly and concise assistant. " +
	"When the user shares document content, analyze it and summarize the key points before answering follow-up questions."

// buildPromptMessages prefixes the system prompt and keeps only the newest
// maxTurns turns of the transcript.
func buildPromptMessages(systemPrompt string, turns []domain.Turn, maxTurns int) []domain.ChatMessage {
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	systemPrompt = strings.TrimSpace(systemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	messages := make([]domain.ChatMessage, 0, len(turns)+1)
	messages = append(messages, domain.ChatMessage{Role: string(domain.RoleSystem), Content: systemPrompt})
	for _, t := range turns {
		messages = append(messages, domain.ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	return messages
}

func validateTranscript(turns []domain.Turn) *Error {
	if len(turns) == 0 {
		return newError(ErrorInvalidInput, "empty_messages", nil)
	}
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return newError(ErrorInvalidInput, "invalid_role", err)
		}
	}
	last := turns[len(turns)-1]
	if last.Role != domain.RoleUser {
		return newError(ErrorInvalidInput, "last_turn_not_user", nil)
	}
	if strings.TrimSpace(last.Content) == "" {
		return newError(ErrorInvalidInput, "empty_question", nil)
	}
	return nil
}
