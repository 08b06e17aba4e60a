package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"pocketchat/pkg/domain"
)

// BreakerConfig tunes the circuit around a RemoteStore.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures opens the circuit once this many unavailable
	// results arrive in a row. Zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	// Zero means 30s.
	OpenTimeout time.Duration
	// OnStateChange, when set, observes transitions (metrics hook).
	OnStateChange func(name string, from, to string)
}

// BreakerStore short-circuits a failing remote store to ErrStoreUnavailable
// so a dead backend does not cost a full timeout on every read and write.
// Only unavailability trips the breaker; rejected rows and validation
// failures mean the store is up.
type BreakerStore struct {
	next RemoteStore
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps next with a circuit breaker.
func NewBreakerStore(next RemoteStore, cfg BreakerConfig) *BreakerStore {
	name := cfg.Name
	if name == "" {
		name = "remote-store"
	}
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrStoreUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("remote store circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from.String(), to.String())
			}
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

// Read delegates to the wrapped store unless the circuit is open.
func (b *BreakerStore) Read(ctx context.Context, id domain.Identity) ([]domain.Message, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.Read(ctx, id)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	msgs, _ := res.([]domain.Message)
	return msgs, nil
}

// Write delegates to the wrapped store unless the circuit is open.
func (b *BreakerStore) Write(ctx context.Context, id domain.Identity, draft domain.Draft) (domain.Message, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.Write(ctx, id, draft)
	})
	if err != nil {
		return domain.Message{}, breakerError(err)
	}
	msg, _ := res.(domain.Message)
	return msg, nil
}

// State reports the breaker state name.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
