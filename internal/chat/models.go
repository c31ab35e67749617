package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/suPer8Hu/aiverse/internal/ai"
)

// DefaultTitle marks a session whose title has not been generated yet.
const DefaultTitle = "New Chat"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleModel }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// UnmarshalJSON rejects roles outside the enumeration.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is one immutable entry of a transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a chat transcript document. Messages are stored in one JSON
// column and always written back as a whole, guarded by Version.
type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"id"`
	UserID    uint64    `gorm:"index:idx_chat_sessions_owner_created,priority:1;not null" json:"userId"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Messages  []Message `gorm:"serializer:json;type:longtext" json:"messages"`
	Version   uint64    `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"index:idx_chat_sessions_owner_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Session) TableName() string { return "chat_sessions" }

// Append adds a message stamped now, never earlier than the previous one.
func (s *Session) Append(role Role, content string, now time.Time) {
	if n := len(s.Messages); n > 0 && now.Before(s.Messages[n-1].Timestamp) {
		now = s.Messages[n-1].Timestamp
	}
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
}

// providerMessages replays the transcript in stored order.
func providerMessages(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		role := ai.RoleUser
		if m.Role == RoleModel {
			role = ai.RoleModel
		}
		out = append(out, ai.Message{Role: role, Content: m.Content})
	}
	return out
}
