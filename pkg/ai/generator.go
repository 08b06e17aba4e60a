package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageGenerator turns a prompt into one image. A result is either a whole
// image or an error.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// Image is raw generated image bytes.
type Image struct {
	Data     []byte
	MIMEType string
}

// Extension returns the file extension for the image type.
func (i Image) Extension() string {
	switch i.MIMEType {
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

func newImage(data []byte, mimeType string) (Image, error) {
	if len(data) == 0 {
		return Image{}, errors.New("empty image payload")
	}
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return Image{}, errors.New("payload is not an image")
	}
	return Image{Data: data, MIMEType: mimeType}, nil
}
