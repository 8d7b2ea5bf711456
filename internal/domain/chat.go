package domain

import "fmt"

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversation message. It is a value type: once built it is
// only ever copied, never edited.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// Validate reports whether the turn may appear in a client transcript.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("domain: invalid turn role %q", t.Role)
	}
}

// ChatMessage is the provider-agnostic chat message shape sent to LLM
// integrations. Unlike Turn it may carry the system role.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractedContent is text pulled out of an uploaded file.
type ExtractedContent struct {
	Text string `json:"content"`
}
