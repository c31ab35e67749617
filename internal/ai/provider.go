package ai

import "context"

// Role is who authored a message. Only two values exist.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Message struct {
	Role    Role
	Content string
}

// Provider produces the next model turn for an ordered conversation whose last
// element is the new user message.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// openAIRole maps to the role names of OpenAI-style chat APIs.
func openAIRole(r Role) string {
	if r == RoleModel {
		return "assistant"
	}
	return "user"
}
