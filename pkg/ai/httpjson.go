package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// apiError is returned for any provider response with status >= 400.
type apiError struct {
	Provider string
	Status   int
	Message  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
}

// postJSON posts payload as JSON and decodes a successful body into out.
// messageOf extracts the provider's error text from a failed body.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, payload, out any, messageOf func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		msg := ""
		if messageOf != nil {
			msg = strings.TrimSpace(messageOf(raw))
		}
		if msg == "" {
			msg = resp.Status
		}
		return &apiError{Provider: provider, Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}
