package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"pocketchat/pkg/domain"
)

var testIdentity = domain.Identity{OwnerID: "owner-1", Credential: "cred-1"}

func TestHTTPStoreReadSelectsOwnerOrderedByTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/rest/v1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user_id") != "eq.owner-1" {
			t.Errorf("user_id filter = %q", q.Get("user_id"))
		}
		if q.Get("order") != "created_at.asc" {
			t.Errorf("order = %q", q.Get("order"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer cred-1" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q", got)
		}
		_, _ = w.Write([]byte(`[
			{"id":"a1","user_id":"owner-1","role":"user","text":"Hello","image_url":null,"created_at":"2025-03-01T10:00:00.123456+00:00"},
			{"id":7,"user_id":"owner-1","role":"assistant","text":null,"image_url":"object://images/x.jpg","created_at":"2025-03-01 10:00:02.5+00"}
		]`))
	}))
	defer srv.Close()

	s, err := NewHTTPStore(srv.URL+"/rest/v1/", "anon-key")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	msgs, err := s.Read(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "a1" || msgs[0].Text != "Hello" || msgs[0].Role != domain.RoleUser {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].ID != "7" || msgs[1].ImageRef != "object://images/x.jpg" || msgs[1].Text != "" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
	if !msgs[0].CreatedAt.Before(msgs[1].CreatedAt) {
		t.Fatalf("timestamps out of order: %v %v", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}
}

func TestHTTPStoreReadEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	s, _ := NewHTTPStore(srv.URL, "")
	msgs, err := s.Read(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", msgs)
	}
}

func TestHTTPStoreWriteReturnsRepresentation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Prefer"); got != "return=representation" {
			t.Errorf("prefer = %q", got)
		}
		var rows []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(rows) != 1 || rows[0]["user_id"] != "owner-1" || rows[0]["role"] != "user" || rows[0]["text"] != "Hello" {
			t.Errorf("unexpected insert payload: %+v", rows)
		}
		if rows[0]["image_url"] != nil {
			t.Errorf("image_url should be null, got %v", rows[0]["image_url"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"srv-1","user_id":"owner-1","role":"user","text":"Hello","created_at":"2025-03-01T10:00:00Z"}]`))
	}))
	defer srv.Close()
	s, _ := NewHTTPStore(srv.URL, "")
	msg, err := s.Write(context.Background(), testIdentity, domain.Draft{Role: domain.RoleUser, Text: "Hello"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg.ID != "srv-1" || msg.OwnerID != "owner-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestHTTPStoreErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`, want: domain.ErrStoreUnavailable},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"JWT expired"}`, want: domain.ErrStoreUnavailable},
		{name: "constraint", status: http.StatusConflict, body: `{"message":"duplicate key"}`, want: domain.ErrStoreError},
		{name: "malformed body", status: http.StatusOK, body: `{not json`, want: domain.ErrStoreError},
		{name: "bad role", status: http.StatusOK, body: `[{"id":"1","role":"system","created_at":"2025-03-01T10:00:00Z"}]`, want: domain.ErrStoreError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			s, _ := NewHTTPStore(srv.URL, "")
			_, err := s.Read(context.Background(), testIdentity)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHTTPStoreRejectsBeforeAnyRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	s, _ := NewHTTPStore(srv.URL, "")

	if _, err := s.Write(context.Background(), testIdentity, domain.Draft{Role: domain.RoleAssistant}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.Write(context.Background(), testIdentity, domain.Draft{Role: "bot", Text: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for role, got %v", err)
	}
	if _, err := s.Read(context.Background(), domain.Identity{OwnerID: "owner-1"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected unavailable without credential, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no requests, got %d", got)
	}
}

func TestHTTPStoreUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	s, _ := NewHTTPStore(url, "")
	if _, err := s.Read(context.Background(), testIdentity); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
