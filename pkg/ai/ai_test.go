package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestGeminiGenerateTextUsesHeaderKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-flash:generateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "" {
			t.Fatalf("api key must not be sent in the query")
		}
		if got := r.Header.Get("X-goog-api-key"); got != "k1" {
			t.Fatalf("api key header = %q", got)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "Hello" || req.SystemInstruction != nil {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hi there"}]}}]}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient("k1", srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := NewGeminiGenerator(client, "models/gemini-1.5-flash").GenerateText(context.Background(), "", "Hello")
	if err != nil || got != "Hi there" {
		t.Fatalf("GenerateText = %q, %v", got, err)
	}
}

func TestGeminiGenerateTextErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "quota") {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	client, _ := NewGeminiClient("k1", srv.URL)
	_, err := client.GenerateText(context.Background(), "quota", "", "Hello")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests || apiErr.Message != "quota exceeded" {
		t.Fatalf("expected api error, got %v", err)
	}
	if _, err := client.GenerateText(context.Background(), "empty", "", "Hello"); err == nil {
		t.Fatalf("expected empty candidates to fail")
	}
}

func TestGeminiGenerateImageReadsInlineData(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngHeader)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.GenerationConfig == nil || len(req.GenerationConfig.ResponseModalities) != 2 {
			t.Fatalf("image request must ask for image output: %+v", req.GenerationConfig)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"here"},{"inline_data":{"mimeType":"image/png","data":"` + encoded + `"}}]}}]}`))
	}))
	defer srv.Close()

	client, _ := NewGeminiClient("k1", srv.URL)
	img, err := NewGeminiImageGenerator(client, "gemini-2.0-flash").GenerateImage(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if img.MIMEType != "image/png" || string(img.Data) != string(pngHeader) || img.Extension() != "png" {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestHuggingFaceGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/"+DefaultHuggingFaceImageModel {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer hf-key" {
			t.Fatalf("missing bearer key")
		}
		var body hfRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Inputs == "loading" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20}`))
			return
		}
		if body.Inputs == "garbage" {
			_, _ = w.Write([]byte("not an image"))
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	gen, err := NewHuggingFaceImageGenerator(srv.URL, "hf-key", "")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	img, err := gen.GenerateImage(context.Background(), "draw a cat")
	if err != nil || img.MIMEType != "image/jpeg" || len(img.Data) != len(pngHeader) {
		t.Fatalf("GenerateImage = %+v, %v", img, err)
	}
	if _, err := gen.GenerateImage(context.Background(), "loading"); err == nil || !strings.Contains(err.Error(), "loading") {
		t.Fatalf("expected loading error, got %v", err)
	}
	if _, err := gen.GenerateImage(context.Background(), "garbage"); err == nil {
		t.Fatalf("expected non-image payload to fail")
	}
}

func TestOllamaAndOpenAICompatGenerators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req ollamaChatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Fatalf("unexpected ollama request: %+v", req)
			}
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"from ollama"}}`))
		case "/v1/chat/completions":
			if r.Header.Get("Authorization") != "Bearer sk" {
				t.Fatalf("missing bearer key")
			}
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" from openai "}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got, err := NewOllamaGenerator(srv.URL, "llama3").GenerateText(context.Background(), "be brief", "hi")
	if err != nil || got != "from ollama" {
		t.Fatalf("ollama = %q, %v", got, err)
	}
	got, err = NewOpenAICompatGenerator(srv.URL+"/v1", "sk", "gpt").GenerateText(context.Background(), "", "hi")
	if err != nil || got != "from openai" {
		t.Fatalf("openai-compat = %q, %v", got, err)
	}
	if _, err := NewOllamaGenerator(srv.URL, "").GenerateText(context.Background(), "", "hi"); err == nil {
		t.Fatalf("expected missing model to fail")
	}
}
