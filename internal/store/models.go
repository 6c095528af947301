package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title,omitempty"`
	Archived  *bool     `json:"archived,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Conversation) GetID() string { return c.ID }

// DisplayTitle returns the title or a fallback for untitled conversations.
func (c Conversation) DisplayTitle() string {
	if c.Title == nil || *c.Title == "" {
		return "New Chat"
	}
	return *c.Title
}

func (c Conversation) IsArchived() bool {
	return c.Archived != nil && *c.Archived
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Files          []File    `json:"files,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m Message) GetID() string { return m.ID }

type File struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
}

func (f File) GetID() string { return f.ID }

type Model struct {
	ID string `json:"id"`
}

func (m Model) GetID() string { return m.ID }

// ValidRole reports whether role is one of the message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}
