// Package chatsync keeps the in-memory transcript of one UI session in step
// with the remote message store, falling back to the local store whenever
// there is no session or the remote store is unreachable.
//
// Entries are appended optimistically as pending and patched in place, by
// key, once a store accepts them. Their position never changes.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"pocketchat/pkg/domain"
	"pocketchat/pkg/session"
	"pocketchat/pkg/store"
)

const (
	defaultScopeKey     = "pocketchat_messages"
	defaultStoreTimeout = 30 * time.Second
	tempIDPrefix        = "tmp-"
)

// LocalStore is the fallback transcript area.
type LocalStore interface {
	Read(ctx context.Context, scopeKey string) ([]domain.Message, error)
	Append(ctx context.Context, scopeKey string, msg domain.Message) (domain.Message, error)
}

// Observer receives sync outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObservePersist(route Route, result string)
	ObserveReadFallback(reason string)
}

// Config wires an Engine.
type Config struct {
	// Remote may be nil, in which case every operation is local.
	Remote   store.RemoteStore
	Local    LocalStore
	Sessions session.Provider
	// ScopeKey is the fixed key of the local transcript blob.
	ScopeKey     string
	StoreTimeout time.Duration
	Observer     Observer
	Now          func() time.Time
	Logger       *slog.Logger
}

// Engine owns the transcript.
type Engine struct {
	remote   store.RemoteStore
	local    LocalStore
	sessions session.Provider
	scopeKey string
	timeout  time.Duration
	observer Observer
	now      func() time.Time
	log      *slog.Logger

	loads singleflight.Group

	mu      sync.Mutex
	entries []*Entry
	byKey   map[string]*Entry
}

// New validates cfg and returns an engine with an empty transcript.
func New(cfg Config) (*Engine, error) {
	if cfg.Local == nil {
		return nil, errors.New("local store required")
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.None{}
	}
	scopeKey := strings.TrimSpace(cfg.ScopeKey)
	if scopeKey == "" {
		scopeKey = defaultScopeKey
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		remote:   cfg.Remote,
		local:    cfg.Local,
		sessions: sessions,
		scopeKey: scopeKey,
		timeout:  timeout,
		observer: cfg.Observer,
		now:      now,
		log:      logger,
		byKey:    make(map[string]*Entry),
	}, nil
}

// Snapshot copies the transcript in display order without any I/O.
func (e *Engine) Snapshot() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, *entry)
	}
	return out
}

// LoadTranscript replaces the transcript with the store's view: the remote
// store when a session resolves and the read succeeds, the local store
// otherwise. Entries still pending from this process are kept after the
// loaded ones. It never fails; the worst case is an empty transcript.
// Concurrent calls share one read.
func (e *Engine) LoadTranscript(ctx context.Context) []Entry {
	res, _, _ := e.loads.Do("load", func() (any, error) {
		msgs, via := e.read(ctx)
		return e.replace(msgs, via), nil
	})
	entries, _ := res.([]Entry)
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func (e *Engine) read(ctx context.Context) ([]domain.Message, Route) {
	identity, ok, err := e.sessions.CurrentIdentity(ctx)
	switch {
	case err != nil:
		e.log.Warn("session lookup failed, reading local transcript", "err", err)
		e.observeFallback("session_error")
	case !ok:
		e.log.Debug("no session, reading local transcript")
		e.observeFallback("no_session")
	case e.remote == nil:
		e.observeFallback("no_remote")
	default:
		storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
		msgs, err := e.remote.Read(storeCtx, identity)
		cancel()
		if err == nil {
			return ownedBy(msgs, identity.OwnerID), RouteRemote
		}
		err = classifyStoreErr(err)
		e.log.Warn("remote read failed, reading local transcript", "owner_id", identity.OwnerID, "err", err)
		e.observeFallback(failureReason(err))
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	msgs, err := e.local.Read(storeCtx, e.scopeKey)
	if err != nil {
		e.log.Error("local read failed, showing empty transcript", "scope_key", e.scopeKey, "err", err)
		return nil, RouteLocal
	}
	return ownedBy(msgs, domain.LocalOwnerID), RouteLocal
}

// ownedBy drops rows of any other owner. Local rows written before owners
// were recorded carry no owner and count as local.
func ownedBy(msgs []domain.Message, owner string) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.OwnerID == owner || (owner == domain.LocalOwnerID && msg.OwnerID == "") {
			out = append(out, msg)
		}
	}
	return out
}

func (e *Engine) replace(msgs []domain.Message, via Route) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := make([]*Entry, 0, len(msgs)+len(e.entries))
	byKey := make(map[string]*Entry, cap(entries))
	loaded := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, dup := byKey[msg.ID]; dup {
			continue
		}
		entry := entryFromMessage(msg, via)
		entries = append(entries, entry)
		byKey[entry.Key] = entry
		loaded[entry.ID] = struct{}{}
	}
	for _, entry := range e.entries {
		if entry.State != StatePending {
			continue
		}
		entries = append(entries, entry)
		byKey[entry.Key] = entry
	}
	e.entries = entries
	e.byKey = byKey
	return e.snapshotLocked()
}

// SendMessage appends a pending entry and tries to make it durable. Only
// invalid input is returned as an error, in which case nothing was appended
// and no store was contacted. Persistence failures leave the entry pending
// and are logged; the returned entry reflects the outcome.
func (e *Engine) SendMessage(ctx context.Context, role domain.Role, text, imageRef string) (Entry, error) {
	draft, err := newDraft(role, text, imageRef)
	if err != nil {
		return Entry{}, err
	}

	key := tempIDPrefix + uuid.NewString()
	entry := &Entry{
		Key:       key,
		ID:        key,
		Role:      draft.Role,
		Text:      draft.Text,
		ImageRef:  draft.ImageRef,
		CreatedAt: e.now(),
		State:     StatePending,
	}
	e.mu.Lock()
	e.entries = append(e.entries, entry)
	e.byKey[key] = entry
	createdAt := entry.CreatedAt
	e.mu.Unlock()

	msg, via, err := e.persist(ctx, draft, createdAt)
	if err != nil {
		e.log.Error("message left unpersisted", "key", key, "role", string(draft.Role), "err", err)
		e.observePersist(via, "pending")
		return e.entry(key), nil
	}
	e.observePersist(via, "durable")
	return e.markDurable(key, msg, via), nil
}

// newDraft enforces the send-time rules: a known role, user messages always
// carry text, and whitespace-only text counts as absent.
func newDraft(role domain.Role, text, imageRef string) (domain.Draft, error) {
	if !role.Valid() {
		return domain.Draft{}, fmt.Errorf("%w: invalid role %q", domain.ErrValidation, string(role))
	}
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	imageRef = strings.TrimSpace(imageRef)
	if role == domain.RoleUser && text == "" {
		return domain.Draft{}, fmt.Errorf("%w: message text required", domain.ErrValidation)
	}
	draft := domain.Draft{Role: role, Text: text, ImageRef: imageRef}
	if err := draft.Validate(); err != nil {
		return domain.Draft{}, err
	}
	return draft, nil
}

func (e *Engine) persist(ctx context.Context, draft domain.Draft, createdAt time.Time) (domain.Message, Route, error) {
	identity, ok, err := e.sessions.CurrentIdentity(ctx)
	if err != nil {
		e.log.Warn("session lookup failed, writing locally", "err", err)
		ok = false
	}
	if ok && e.remote != nil {
		storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
		msg, err := e.remote.Write(storeCtx, identity, draft)
		cancel()
		if err == nil {
			return msg, RouteRemote, nil
		}
		err = classifyStoreErr(err)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			// The store of record saw the row and refused it.
			return domain.Message{}, RouteRemote, err
		}
		e.log.Warn("remote write failed, writing locally", "owner_id", identity.OwnerID, "err", err)
	}
	return e.appendLocal(ctx, draft, createdAt)
}

func (e *Engine) appendLocal(ctx context.Context, draft domain.Draft, createdAt time.Time) (domain.Message, Route, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	msg, err := e.local.Append(storeCtx, e.scopeKey, domain.Message{
		ID:        uuid.NewString(),
		OwnerID:   domain.LocalOwnerID,
		Role:      draft.Role,
		Text:      draft.Text,
		ImageRef:  draft.ImageRef,
		CreatedAt: createdAt,
	})
	if err != nil {
		return domain.Message{}, RouteLocal, fmt.Errorf("local append: %w", err)
	}
	return msg, RouteLocal, nil
}

// markDurable patches the entry found by key. A durable entry is never
// touched again. If a concurrent load already brought the stored row in,
// the pending copy is dropped so the message appears once.
func (e *Engine) markDurable(key string, msg domain.Message, via Route) Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.byKey[key]
	if !ok {
		return *entryFromMessage(msg, via)
	}
	if entry.State == StateDurable {
		return *entry
	}
	if existing, dup := e.byKey[msg.ID]; dup && existing != entry {
		e.removeLocked(entry)
		return *existing
	}
	entry.ID = msg.ID
	entry.OwnerID = msg.OwnerID
	if !msg.CreatedAt.IsZero() {
		entry.CreatedAt = msg.CreatedAt
	}
	entry.State = StateDurable
	entry.PersistedVia = via
	e.byKey[msg.ID] = entry
	return *entry
}

func (e *Engine) removeLocked(target *Entry) {
	for i, entry := range e.entries {
		if entry == target {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	delete(e.byKey, target.Key)
}

func (e *Engine) entry(key string) Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.byKey[key]; ok {
		return *entry
	}
	return Entry{}
}

func (e *Engine) observePersist(route Route, result string) {
	if e.observer != nil {
		e.observer.ObservePersist(route, result)
	}
}

func (e *Engine) observeFallback(reason string) {
	if e.observer != nil {
		e.observer.ObserveReadFallback(reason)
	}
}

// classifyStoreErr folds deadline and cancellation into unavailability.
func classifyStoreErr(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrStoreError) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreError, err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "remote_unavailable"
	case errors.Is(err, domain.ErrStoreError):
		return "remote_error"
	default:
		return "remote_other"
	}
}
