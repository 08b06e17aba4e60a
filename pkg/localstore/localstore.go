// Package localstore implements the unauthenticated fallback transcript: one
// serialized message list per scope key inside a durable KV area.
//
// The blob is read-modify-written without locking. Only one UI session
// touches a scope at a time, so there is a single writer.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"pocketchat/pkg/domain"
)

// Store reads and appends the fallback transcript.
type Store struct {
	kv KV
}

// New wraps kv.
func New(kv KV) (*Store, error) {
	if kv == nil {
		return nil, errors.New("local kv required")
	}
	return &Store{kv: kv}, nil
}

// Read returns the messages stored under scopeKey in append order. A missing
// or corrupt blob reads as an empty transcript; only KV failures are errors.
func (s *Store) Read(ctx context.Context, scopeKey string) ([]domain.Message, error) {
	raw, ok, err := s.kv.Get(ctx, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("read local blob: %w", err)
	}
	if !ok {
		return []domain.Message{}, nil
	}
	return decodeBlob(scopeKey, raw), nil
}

// Append adds msg to the blob under scopeKey and echoes it back.
func (s *Store) Append(ctx context.Context, scopeKey string, msg domain.Message) (domain.Message, error) {
	msgs, err := s.Read(ctx, scopeKey)
	if err != nil {
		return domain.Message{}, err
	}
	msgs = append(msgs, msg)
	raw, err := json.Marshal(msgs)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode local blob: %w", err)
	}
	if err := s.kv.Set(ctx, scopeKey, string(raw)); err != nil {
		return domain.Message{}, fmt.Errorf("write local blob: %w", err)
	}
	return msg, nil
}

func decodeBlob(scopeKey, raw string) []domain.Message {
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		slog.Warn("local transcript blob corrupt, treating as empty", "scope", scopeKey, "err", err)
		return []domain.Message{}
	}
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" || !msg.Role.Valid() {
			slog.Warn("dropping malformed local message", "scope", scopeKey, "id", msg.ID, "role", msg.Role)
			continue
		}
		out = append(out, msg)
	}
	return out
}
