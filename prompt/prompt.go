// Package prompt composes upstream chat-completion requests.
//
// The server keeps no conversation state, so the persona preamble is the only
// context the model ever sees besides the user's message. Compose therefore
// re-asserts it as the system message on every call.
package prompt

import "github.com/teilomillet/ainu/config"

// Roles used in composed requests.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a single chat message. Content is always serialized, even when
// empty.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the upstream request body.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Persona is the immutable prompt context shared by all requests.
type Persona struct {
	SystemPreamble string
	ModelID        string
	MaxTokens      int
}

// FromConfig converts the persona section of the server configuration.
func FromConfig(cfg config.PersonaConfig) Persona {
	return Persona{
		SystemPreamble: cfg.SystemPreamble,
		ModelID:        cfg.ModelID,
		MaxTokens:      cfg.MaxTokens,
	}
}

// Compose builds the upstream request for a single user message. The message
// is passed through verbatim: no trimming, filtering or length checks.
func Compose(message string, persona Persona) ChatRequest {
	return ChatRequest{
		Model: persona.ModelID,
		Messages: []Message{
			{Role: RoleSystem, Content: persona.SystemPreamble},
			{Role: RoleUser, Content: message},
		},
		MaxTokens: persona.MaxTokens,
	}
}
