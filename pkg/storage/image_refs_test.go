package storage

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"
)

type memoryObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return io.ErrShortWrite
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryObjects) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.example/" + key + "?expires=" + expiry.String(), nil
}

func TestObjectImageRefsPublishAndResolve(t *testing.T) {
	objects := &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
	refs, err := NewObjectImageRefs(objects, time.Minute)
	if err != nil {
		t.Fatalf("new refs: %v", err)
	}

	ref, err := refs.Publish(context.Background(), "owner-1", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	key := strings.TrimPrefix(ref, "object://")
	if !strings.HasPrefix(ref, "object://images/owner-1/") || !strings.HasSuffix(ref, ".png") {
		t.Fatalf("unexpected ref: %s", ref)
	}
	if string(objects.objects[key]) != "png-bytes" || objects.types[key] != "image/png" {
		t.Fatalf("object not stored under %s", key)
	}

	url, err := refs.Resolve(context.Background(), ref)
	if err != nil || url != "https://objects.example/"+key+"?expires=1m0s" {
		t.Fatalf("resolve = %q, %v", url, err)
	}
	if url, _ := refs.Resolve(context.Background(), "https://elsewhere/cat.png"); url != "https://elsewhere/cat.png" {
		t.Fatalf("foreign refs should pass through, got %q", url)
	}
	if _, err := refs.Publish(context.Background(), "", []byte("x"), "image/png"); err == nil {
		t.Fatalf("expected missing owner to fail")
	}
}

func TestDataURIRefs(t *testing.T) {
	ref, err := DataURIRefs{}.Publish(context.Background(), "local-user", []byte("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg"))
	if ref != want {
		t.Fatalf("ref = %q, want %q", ref, want)
	}
	if got, _ := (DataURIRefs{}).Resolve(context.Background(), ref); got != ref {
		t.Fatalf("data uri should resolve to itself")
	}
	if _, err := (DataURIRefs{}).Publish(context.Background(), "x", nil, "image/png"); err == nil {
		t.Fatalf("expected empty image to fail")
	}
}
