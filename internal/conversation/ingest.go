package conversation

import "mai-chat/internal/domain"

const analyzePrefix = "Please analyze this content: "

// Ingest turns extracted file text into the user turn that asks the backend to
// analyze it. It does not touch the log.
func Ingest(content domain.ExtractedContent) domain.Turn {
	return domain.UserTurn(analyzePrefix + content.Text)
}
