package store

import (
	"context"

	"pocketchat/pkg/domain"
)

// RemoteStore is the authenticated, append-only message store of record.
// Implementations must not cache: every call reaches the backing service.
//
// Read returns the owner's messages oldest first, or an empty slice when there
// are none. Write validates the draft, inserts it, and returns the stored row
// carrying the store-assigned ID and timestamp. Failures wrap
// domain.ErrStoreUnavailable, domain.ErrStoreError or domain.ErrValidation.
type RemoteStore interface {
	Read(ctx context.Context, id domain.Identity) ([]domain.Message, error)
	Write(ctx context.Context, id domain.Identity, draft domain.Draft) (domain.Message, error)
}

func requireOwner(id domain.Identity) error {
	if id.OwnerID == "" {
		return domain.ErrStoreUnavailable
	}
	return nil
}
