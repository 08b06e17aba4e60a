// Package intent decides whether a prompt asks for an image.
package intent

import "strings"

// Kind is the generation route for a prompt.
type Kind string

const (
	Text  Kind = "text"
	Image Kind = "image"
)

// ImagePhrases are checked in order against the lowercased prompt; the first
// substring hit wins. This is a plain keyword heuristic and will misfire on
// prompts like "draw a conclusion".
var ImagePhrases = []string{
	"generate image",
	"create image",
	"draw",
	"picture of",
}

// Classify returns Image and the matching phrase when the prompt contains
// one of ImagePhrases, otherwise Text.
func Classify(prompt string) (Kind, string) {
	lower := strings.ToLower(prompt)
	for _, phrase := range ImagePhrases {
		if strings.Contains(lower, phrase) {
			return Image, phrase
		}
	}
	return Text, ""
}
