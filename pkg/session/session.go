// Package session resolves the identity the sync engine uses to pick
// remote or local persistence.
package session

import (
	"context"
	"sync"
	"time"

	"pocketchat/pkg/domain"
)

// Provider answers "who is signed in right now". ok=false means no session;
// a non-nil error means the provider itself failed and is treated the same
// way by callers.
type Provider interface {
	CurrentIdentity(ctx context.Context) (domain.Identity, bool, error)
}

// Holder keeps the single session of this UI instance in memory.
type Holder struct {
	mu        sync.RWMutex
	identity  domain.Identity
	expiresAt time.Time
	now       func() time.Time
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{now: time.Now}
}

// Set installs a session. A zero expiresAt never expires.
func (h *Holder) Set(identity domain.Identity, expiresAt time.Time) {
	h.mu.Lock()
	h.identity = identity
	h.expiresAt = expiresAt
	h.mu.Unlock()
}

// Clear drops the session.
func (h *Holder) Clear() {
	h.mu.Lock()
	h.identity = domain.Identity{}
	h.expiresAt = time.Time{}
	h.mu.Unlock()
}

// CurrentIdentity implements Provider. Expired sessions resolve to none.
func (h *Holder) CurrentIdentity(_ context.Context) (domain.Identity, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.identity.OwnerID == "" {
		return domain.Identity{}, false, nil
	}
	if !h.expiresAt.IsZero() && !h.now().Before(h.expiresAt) {
		return domain.Identity{}, false, nil
	}
	return h.identity, true, nil
}

// Authenticated reports whether CurrentIdentity would return a session.
func (h *Holder) Authenticated() bool {
	_, ok, _ := h.CurrentIdentity(context.Background())
	return ok
}

// None is a Provider with no session, for purely local deployments.
type None struct{}

// CurrentIdentity implements Provider.
func (None) CurrentIdentity(context.Context) (domain.Identity, bool, error) {
	return domain.Identity{}, false, nil
}
