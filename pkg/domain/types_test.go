package domain

import (
	"errors"
	"testing"
)

func TestDraftValidate(t *testing.T) {
	cases := []struct {
		name  string
		draft Draft
		ok    bool
	}{
		{name: "user text", draft: Draft{Role: RoleUser, Text: "hi"}, ok: true},
		{name: "assistant image only", draft: Draft{Role: RoleAssistant, ImageRef: "object://images/a.jpg"}, ok: true},
		{name: "empty assistant", draft: Draft{Role: RoleAssistant}},
		{name: "whitespace text", draft: Draft{Role: RoleUser, Text: "  \n\t"}},
		{name: "unknown role", draft: Draft{Role: Role("invalid-role"), Text: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGenerationTimeoutIsGenerationError(t *testing.T) {
	if !errors.Is(ErrGenerationTimeout, ErrGeneration) {
		t.Fatal("timeout should match ErrGeneration")
	}
}
