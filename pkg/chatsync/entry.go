package chatsync

import (
	"time"

	"pocketchat/pkg/domain"
)

// State is the persistence state of one transcript entry.
type State string

const (
	StatePending State = "pending"
	StateDurable State = "durable"
)

// Route names the store that made an entry durable.
type Route string

const (
	RouteRemote Route = "remote"
	RouteLocal  Route = "local"
)

// Entry is one message as the transcript holds it. Key is fixed at creation
// and is how the engine finds the entry again; ID starts as the temporary
// identifier and is replaced by the durable one.
type Entry struct {
	Key          string
	ID           string
	OwnerID      string
	Role         domain.Role
	Text         string
	ImageRef     string
	CreatedAt    time.Time
	State        State
	PersistedVia Route
}

// Pending reports whether the entry still carries its temporary identifier.
func (e Entry) Pending() bool {
	return e.State == StatePending
}

func entryFromMessage(msg domain.Message, via Route) *Entry {
	return &Entry{
		Key:          msg.ID,
		ID:           msg.ID,
		OwnerID:      msg.OwnerID,
		Role:         msg.Role,
		Text:         msg.Text,
		ImageRef:     msg.ImageRef,
		CreatedAt:    msg.CreatedAt,
		State:        StateDurable,
		PersistedVia: via,
	}
}
