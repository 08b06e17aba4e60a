package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	objectRefScheme      = "object://"
	defaultPresignExpiry = 15 * time.Minute
)

// ImageRefs turns generated image bytes into the imageRef stored on a
// message, and turns a stored imageRef back into a loadable URL.
type ImageRefs interface {
	Publish(ctx context.Context, ownerID string, data []byte, mimeType string) (string, error)
	Resolve(ctx context.Context, ref string) (string, error)
}

// ObjectImageRefs keeps images in object storage. Refs look like
// object://images/<owner>/<uuid>.<ext> and resolve to presigned URLs, so the
// stored message never carries an expiring link.
type ObjectImageRefs struct {
	store  ObjectStore
	expiry time.Duration
}

// NewObjectImageRefs wraps store. Zero expiry means 15 minutes.
func NewObjectImageRefs(store ObjectStore, expiry time.Duration) (*ObjectImageRefs, error) {
	if store == nil {
		return nil, errors.New("object store required")
	}
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &ObjectImageRefs{store: store, expiry: expiry}, nil
}

// Publish uploads the image and returns its object ref.
func (o *ObjectImageRefs) Publish(ctx context.Context, ownerID string, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", errors.New("image owner required")
	}
	key := fmt.Sprintf("images/%s/%s.%s", ownerID, uuid.NewString(), extensionFor(mimeType))
	if err := o.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return "", err
	}
	return objectRefScheme + key, nil
}

// Resolve presigns object refs and passes any other ref (absolute URLs,
// data URIs written by other clients) through unchanged.
func (o *ObjectImageRefs) Resolve(ctx context.Context, ref string) (string, error) {
	key, ok := strings.CutPrefix(ref, objectRefScheme)
	if !ok {
		return ref, nil
	}
	if key == "" {
		return "", errors.New("object ref missing key")
	}
	return o.store.PresignGet(ctx, key, o.expiry)
}

// DataURIRefs inlines images as data: URIs. Used when no object store is
// configured; the ref is self-contained and resolves to itself.
type DataURIRefs struct{}

// Publish implements ImageRefs.
func (DataURIRefs) Publish(_ context.Context, _ string, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Resolve implements ImageRefs.
func (DataURIRefs) Resolve(_ context.Context, ref string) (string, error) {
	return ref, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
