package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pocketchat/internal/metrics"
	"pocketchat/internal/ratelimit"
	"pocketchat/internal/util"
	"pocketchat/pkg/chatsync"
	"pocketchat/pkg/domain"
	"pocketchat/pkg/session"
	"pocketchat/services/chat/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter throttles POST /api/turns per client IP. Nil disables it.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// Server exposes HTTP endpoints for the chat client.
type Server struct {
	app            *app.App
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	metrics        *metrics.Metrics
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		metrics:        cfg.Metrics,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	logged := util.WithRequestLog(s.metrics.ObserveHTTP, s.mux)
	return util.WithCORS(s.allowedOrigins, util.WithSecurityHeaders(util.WithRequestID(logged)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /api/messages", s.handleLoadMessages)
	s.mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	s.mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	s.mux.HandleFunc("POST /api/turns", s.handleTurn)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/session", s.handleSignIn)
	s.mux.HandleFunc("DELETE /api/session", s.handleSignOut)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoadMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messagesResponse{Messages: s.app.Load(r.Context())})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messagesResponse{Messages: s.app.Transcript(r.Context())})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := s.app.Send(r.Context(), domain.Role(strings.TrimSpace(req.Role)), req.Text, req.ImageURL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if !s.allowTurn(w, r) {
		return
	}
	var req turnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	turn, err := s.app.RunTurn(r.Context(), req.Prompt)
	if err != nil {
		writeAppError(w, err)
		return
	}
	views := s.app.Present(r.Context(), turn.User, turn.Reply)
	writeJSON(w, http.StatusOK, turnResponse{
		User:    views[0],
		Reply:   views[1],
		Intent:  string(turn.Intent),
		Outcome: turn.Outcome,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Busy:          s.app.Busy(),
		Authenticated: s.app.Authenticated(r.Context()),
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "idToken is required")
		return
	}
	identity, err := s.app.SignIn(r.Context(), req.IDToken)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ownerId": identity.OwnerID})
}

func (s *Server) handleSignOut(w http.ResponseWriter, _ *http.Request) {
	if err := s.app.SignOut(); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) allowTurn(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	decision, err := s.limiter.Allow(r.Context(), util.ClientIP(r, s.trustedProxies))
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limit check failed", "err", err, "allowed", decision.Allowed)
	}
	if decision.Allowed {
		return true
	}
	retryAfter := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many turns, slow down")
	return false
}

type sendMessageRequest struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

type turnRequest struct {
	Prompt string `json:"prompt"`
}

type signInRequest struct {
	IDToken string `json:"idToken"`
}

type messagesResponse struct {
	Messages []chatsync.View `json:"messages"`
}

type turnResponse struct {
	User    chatsync.View `json:"user"`
	Reply   chatsync.View `json:"reply"`
	Intent  string        `json:"intent"`
	Outcome string        `json:"outcome"`
}

type statusResponse struct {
	Busy          bool `json:"busy"`
	Authenticated bool `json:"authenticated"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrTurnInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrExchange):
		writeError(w, http.StatusUnauthorized, "sign-in failed")
	case errors.Is(err, app.ErrSignInDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
