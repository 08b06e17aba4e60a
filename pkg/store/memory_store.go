package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"pocketchat/pkg/domain"
)

// MemoryStore keeps messages in-process. It backs the "memory" remote backend
// used for local development and stands in for the managed database in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	chats  map[string][]domain.Message // owner ID -> messages
	nextID int64
	now    func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[string][]domain.Message),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Read returns a copy of the owner's messages in insertion order.
func (m *MemoryStore) Read(ctx context.Context, id domain.Identity) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := requireOwner(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chats[id.OwnerID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

// Write appends the draft with a sequential ID.
func (m *MemoryStore) Write(ctx context.Context, id domain.Identity, draft domain.Draft) (domain.Message, error) {
	if err := draft.Validate(); err != nil {
		return domain.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if err := requireOwner(id); err != nil {
		return domain.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := domain.Message{
		ID:        strconv.FormatInt(m.nextID, 10),
		OwnerID:   id.OwnerID,
		Role:      draft.Role,
		Text:      draft.Text,
		ImageRef:  draft.ImageRef,
		CreatedAt: m.now(),
	}
	m.chats[id.OwnerID] = append(m.chats[id.OwnerID], msg)
	return msg, nil
}
