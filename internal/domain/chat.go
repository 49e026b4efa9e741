package domain

import "strings"

// Role identifies who authored a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Greeting opens every new chat session.
const Greeting = "Hi! I'm the MastDzyn AI. How can I help elevate your brand today?"

// ChatTurn is one entry of a session transcript.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NormalizeRole maps provider role names onto Role. Providers that call the
// assistant "model" are folded into RoleAssistant.
func NormalizeRole(role string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return RoleUser, true
	case "assistant", "model":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// GreetingTranscript returns the transcript of a session nobody has written to.
func GreetingTranscript() []ChatTurn {
	return []ChatTurn{{Role: RoleAssistant, Text: Greeting}}
}
