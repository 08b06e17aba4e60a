package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pocketchat/pkg/domain"
)

const messagesTable = "messages"

// HTTPStore talks to a PostgREST-style endpoint fronting the messages table.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPStore builds a REST store client. baseURL should point at the REST
// root, e.g. "https://project.example.co/rest/v1".
func NewHTTPStore(baseURL, apiKey string) (*HTTPStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("store rest url required")
	}
	return &HTTPStore{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Read selects the owner's rows ordered by creation time.
func (s *HTTPStore) Read(ctx context.Context, id domain.Identity) ([]domain.Message, error) {
	if err := requireCredential(id); err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("select", "*")
	query.Set("user_id", "eq."+id.OwnerID)
	query.Set("order", "created_at.asc")
	endpoint := fmt.Sprintf("%s/%s?%s", s.baseURL, messagesTable, query.Encode())

	var rows []messageRow
	if err := s.doJSON(ctx, http.MethodGet, endpoint, id, nil, &rows); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Write inserts one row and returns the representation the store echoes back.
func (s *HTTPStore) Write(ctx context.Context, id domain.Identity, draft domain.Draft) (domain.Message, error) {
	if err := draft.Validate(); err != nil {
		return domain.Message{}, err
	}
	if err := requireCredential(id); err != nil {
		return domain.Message{}, err
	}
	payload := []insertRow{{
		Role:     string(draft.Role),
		Text:     optionalString(draft.Text),
		UserID:   id.OwnerID,
		ImageURL: optionalString(draft.ImageRef),
	}}
	var rows []messageRow
	endpoint := fmt.Sprintf("%s/%s", s.baseURL, messagesTable)
	if err := s.doJSON(ctx, http.MethodPost, endpoint, id, payload, &rows); err != nil {
		return domain.Message{}, err
	}
	if len(rows) != 1 {
		return domain.Message{}, fmt.Errorf("%w: insert returned %d rows", domain.ErrStoreError, len(rows))
	}
	return rows[0].toMessage()
}

func (s *HTTPStore) doJSON(ctx context.Context, method, endpoint string, id domain.Identity, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrStoreError, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrStoreError, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
	req.Header.Set("Authorization", "Bearer "+id.Credential)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp restErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		msg := strings.TrimSpace(errResp.Message)
		if msg == "" {
			msg = resp.Status
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			return fmt.Errorf("%w: store api error: %s", domain.ErrStoreUnavailable, msg)
		default:
			return fmt.Errorf("%w: store api error: %s", domain.ErrStoreError, msg)
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrStoreError, err)
	}
	return nil
}

func requireCredential(id domain.Identity) error {
	if err := requireOwner(id); err != nil {
		return err
	}
	if strings.TrimSpace(id.Credential) == "" {
		return fmt.Errorf("%w: no session credential", domain.ErrStoreUnavailable)
	}
	return nil
}

type insertRow struct {
	Role     string  `json:"role"`
	Text     *string `json:"text"`
	UserID   string  `json:"user_id"`
	ImageURL *string `json:"image_url"`
}

type messageRow struct {
	ID        json.RawMessage `json:"id"`
	UserID    string          `json:"user_id"`
	Role      string          `json:"role"`
	Text      *string         `json:"text"`
	ImageURL  *string         `json:"image_url"`
	CreatedAt string          `json:"created_at"`
}

// toMessage accepts both uuid and bigint primary keys.
func (r messageRow) toMessage() (domain.Message, error) {
	id := strings.Trim(strings.TrimSpace(string(r.ID)), `"`)
	if id == "" || id == "null" {
		return domain.Message{}, fmt.Errorf("%w: row missing id", domain.ErrStoreError)
	}
	role := domain.Role(r.Role)
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: row %s has role %q", domain.ErrStoreError, id, r.Role)
	}
	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: row %s: %v", domain.ErrStoreError, id, err)
	}
	msg := domain.Message{
		ID:        id,
		OwnerID:   r.UserID,
		Role:      role,
		CreatedAt: createdAt,
	}
	if r.Text != nil {
		msg.Text = *r.Text
	}
	if r.ImageURL != nil {
		msg.ImageRef = *r.ImageURL
	}
	return msg, nil
}

// Postgres timestamptz renders without a "T" separator unless the REST
// layer normalizes it, so both layouts are accepted.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", raw)
}

type restErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
