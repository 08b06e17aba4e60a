package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co"
	// DefaultHuggingFaceImageModel is the diffusion model used when none is configured.
	DefaultHuggingFaceImageModel = "stabilityai/stable-diffusion-xl-base-1.0"
	maxImageBytes                = 20 << 20
)

// HuggingFaceImageGenerator calls the hosted inference API of a text-to-image model.
type HuggingFaceImageGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHuggingFaceImageGenerator builds an ImageGenerator. Empty baseURL and
// model select the public endpoint and DefaultHuggingFaceImageModel.
func NewHuggingFaceImageGenerator(baseURL, apiKey, model string) (*HuggingFaceImageGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("hugging face api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultHuggingFaceBaseURL
	}
	model = strings.Trim(strings.TrimSpace(model), "/")
	if model == "" {
		model = DefaultHuggingFaceImageModel
	}
	return &HuggingFaceImageGenerator{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// GenerateImage implements ImageGenerator.
func (g *HuggingFaceImageGenerator) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	body, err := json.Marshal(hfRequest{Inputs: prompt})
	if err != nil {
		return Image{}, err
	}
	url := fmt.Sprintf("%s/models/%s", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Image{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("hugging face request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// 503 with estimated_time means the model is still loading.
		var errResp hfErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		if errResp.Error != "" {
			return Image{}, fmt.Errorf("hugging face api error: %s", errResp.Error)
		}
		return Image{}, fmt.Errorf("hugging face api error: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("hugging face read: %w", err)
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("hugging face image exceeds %d bytes", maxImageBytes)
	}
	img, err := newImage(data, resp.Header.Get("Content-Type"))
	if err != nil {
		return Image{}, fmt.Errorf("hugging face: %w", err)
	}
	return img, nil
}

type hfRequest struct {
	Inputs string `json:"inputs"`
}

type hfErrorResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}
