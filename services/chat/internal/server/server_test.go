package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pocketchat/internal/metrics"
	"pocketchat/internal/ratelimit"
	"pocketchat/pkg/chatsync"
	"pocketchat/pkg/domain"
	"pocketchat/pkg/localstore"
	"pocketchat/pkg/session"
	"pocketchat/pkg/store"
	"pocketchat/services/chat/internal/app"
)

type echoText struct{}

func (echoText) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	return "echo: " + userPrompt, nil
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	local, err := localstore.New(localstore.NewMemoryKV())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	holder := session.NewHolder()
	holder.Set(domain.Identity{OwnerID: "owner-1", Credential: "cred"}, time.Time{})
	engine, err := chatsync.New(chatsync.Config{Remote: store.NewMemoryStore(), Local: local, Sessions: holder})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	appCfg := app.Config{Transcript: engine, Text: echoText{}, Sessions: holder}
	if cfg.Metrics != nil {
		appCfg.Observer = cfg.Metrics
	}
	a, err := app.New(appCfg)
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	cfg.App = a
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestNewRequiresApp(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing app to fail")
	}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, Config{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing middleware headers: %v", resp.Header)
	}
}

func TestTurnRoundTrip(t *testing.T) {
	m := metrics.New()
	ts := newTestServer(t, Config{Metrics: m})

	resp := postJSON(t, ts.URL+"/api/turns", `{"prompt":"Hello"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", resp.StatusCode)
	}
	var body struct {
		User    chatsync.View `json:"user"`
		Reply   chatsync.View `json:"reply"`
		Intent  string        `json:"intent"`
		Outcome string        `json:"outcome"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if !body.User.IsUser || body.User.Text != "Hello" || body.User.Pending {
		t.Fatalf("unexpected user view: %+v", body.User)
	}
	if body.Reply.IsUser || body.Reply.Text != "echo: Hello" || body.Intent != "text" || body.Outcome != "ok" {
		t.Fatalf("unexpected reply: %+v", body)
	}

	tr, err := http.Get(ts.URL + "/api/transcript")
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	defer tr.Body.Close()
	var transcript struct {
		Messages []chatsync.View `json:"messages"`
	}
	if err := json.NewDecoder(tr.Body).Decode(&transcript); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(transcript.Messages) != 2 || transcript.Messages[0].ID != body.User.ID {
		t.Fatalf("unexpected transcript: %+v", transcript.Messages)
	}

	mr, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer mr.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(mr.Body)
	if !strings.Contains(buf.String(), "pocketchat_turns_total") {
		t.Fatalf("turn metric missing from exposition")
	}
}

func TestTurnRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, Config{})
	for _, body := range []string{`{"prompt":"  "}`, `not json`} {
		resp := postJSON(t, ts.URL+"/api/turns", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestSendMessageStatuses(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := postJSON(t, ts.URL+"/api/messages", `{"role":"assistant","text":"","imageUrl":"https://img.example/a.png"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, want 201", resp.StatusCode)
	}
	var view chatsync.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Image != "https://img.example/a.png" || view.IsUser {
		t.Fatalf("unexpected view: %+v", view)
	}

	for _, body := range []string{`{"role":"assistant","text":""}`, `{"role":"robot","text":"hi"}`} {
		bad := postJSON(t, ts.URL+"/api/messages", body)
		bad.Body.Close()
		if bad.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, bad.StatusCode)
		}
	}

	list, err := http.Get(ts.URL + "/api/messages")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer list.Body.Close()
	var got struct {
		Messages []chatsync.View `json:"messages"`
	}
	if err := json.NewDecoder(list.Body).Decode(&got); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestTurnRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(client, ratelimit.Options{Limit: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	ts := newTestServer(t, Config{Limiter: limiter})

	first := postJSON(t, ts.URL+"/api/turns", `{"prompt":"one"}`)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first turn status = %d", first.StatusCode)
	}
	second := postJSON(t, ts.URL+"/api/turns", `{"prompt":"two"}`)
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second turn status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestStatusAndSessionWithoutSignIn(t *testing.T) {
	ts := newTestServer(t, Config{})
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var status struct {
		Busy          bool `json:"busy"`
		Authenticated bool `json:"authenticated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Busy || !status.Authenticated {
		t.Fatalf("unexpected status: %+v", status)
	}

	signIn := postJSON(t, ts.URL+"/api/session", `{"idToken":"abc"}`)
	signIn.Body.Close()
	if signIn.StatusCode != http.StatusNotImplemented {
		t.Fatalf("sign-in status = %d, want 501", signIn.StatusCode)
	}
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/session", nil)
	out, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sign out: %v", err)
	}
	out.Body.Close()
	if out.StatusCode != http.StatusNotImplemented {
		t.Fatalf("sign-out status = %d, want 501", out.StatusCode)
	}
}

func TestWriteAppErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{app.ErrTurnInFlight, http.StatusConflict},
		{session.ErrExchange, http.StatusUnauthorized},
		{app.ErrSignInDisabled, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeAppError(rec, tt.err)
		if rec.Code != tt.want {
			t.Fatalf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example"}})
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/turns", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("unexpected preflight: %d %v", resp.StatusCode, resp.Header)
	}
}
