package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// LocalOwnerID owns every message written while no authenticated identity is available.
const LocalOwnerID = "local-user"

// Message is one persisted transcript row. JSON names follow the row shape
// shared by the remote REST store and the local fallback blob.
type Message struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text,omitempty"`
	ImageRef  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Draft is a message that has not been assigned an identifier yet.
type Draft struct {
	Role     Role
	Text     string
	ImageRef string
}

// Validate checks the fields every store requires.
func (d Draft) Validate() error {
	if !d.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrValidation, string(d.Role))
	}
	if strings.TrimSpace(d.Text) == "" && strings.TrimSpace(d.ImageRef) == "" {
		return fmt.Errorf("%w: text or image reference required", ErrValidation)
	}
	return nil
}

// Identity is an authenticated subject plus the credential the remote store accepts.
type Identity struct {
	OwnerID    string
	Credential string
}
