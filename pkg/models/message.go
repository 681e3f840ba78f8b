package models

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleCollab    = "collab"
)

// Message is an immutable, append-only conversation entry. ID is the
// client-generated idempotency key (globally unique); every merge path
// dedups on it.
type Message struct {
	ID      string `json:"id"`
	ChatID  string `json:"chat_id"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	TS      int64  `json:"ts"`
	// Meta holds free-form client metadata.
	Meta map[string]interface{} `json:"meta,omitempty"`
}
