package engine

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRender(t *testing.T) {
	vars := map[string]string{"USER_ID": "42", "NAME": "Ann"}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no placeholders", "hello", "hello"},
		{"single", "id={{USER_ID}}", "id=42"},
		{"repeated", "{{USER_ID}}/{{USER_ID}}", "42/42"},
		{"several keys", "{{NAME}} #{{USER_ID}}", "Ann #42"},
		{"unknown key kept", "{{OTHER}}", "{{OTHER}}"},
		{"spaced braces kept", "{{ USER_ID }}", "{{ USER_ID }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.input, vars); got != tt.expected {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSubstitutePlaceholders_Nested(t *testing.T) {
	msg := json.RawMessage(`{"messaging_type":"MESSAGE_TAG","message":{"attachment":{"payload":{"buttons":[{"type":"web_url","url":"https://x.test/?u={{USER_ID}}"}],"count":3}}}}`)

	out, err := SubstitutePlaceholders(msg, map[string]string{PlaceholderUserID: "777"})
	if err != nil {
		t.Fatalf("SubstitutePlaceholders() error = %v", err)
	}

	var doc struct {
		Message struct {
			Attachment struct {
				Payload struct {
					Buttons []struct {
						URL string `json:"url"`
					} `json:"buttons"`
					Count json.Number `json:"count"`
				} `json:"payload"`
			} `json:"attachment"`
		} `json:"message"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	if got := doc.Message.Attachment.Payload.Buttons[0].URL; got != "https://x.test/?u=777" {
		t.Errorf("url = %q", got)
	}
	if doc.Message.Attachment.Payload.Count != "3" {
		t.Errorf("count = %q, want 3", doc.Message.Attachment.Payload.Count)
	}
}

func TestSubstitutePlaceholders_Escaping(t *testing.T) {
	msg := json.RawMessage(`{"message":{"text":"hi {{USER_ID}}"}}`)

	out, err := SubstitutePlaceholders(msg, map[string]string{PlaceholderUserID: `a"b\c`})
	if err != nil {
		t.Fatalf("SubstitutePlaceholders() error = %v", err)
	}

	var doc struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if doc.Message.Text != `hi a"b\c` {
		t.Errorf("text = %q", doc.Message.Text)
	}
}

func TestSubstitutePlaceholders_NoPlaceholders(t *testing.T) {
	msg := json.RawMessage(`{"message":{"text":"plain"}}`)

	out, err := SubstitutePlaceholders(msg, map[string]string{PlaceholderUserID: "1"})
	if err != nil {
		t.Fatalf("SubstitutePlaceholders() error = %v", err)
	}
	if string(out) != string(msg) {
		t.Errorf("message should be returned unchanged, got %s", out)
	}
}

func TestSubstitutePlaceholders_InvalidJSON(t *testing.T) {
	_, err := SubstitutePlaceholders(json.RawMessage(`{"text":"{{USER_ID}}"`), map[string]string{PlaceholderUserID: "1"})
	if !errors.Is(err, ErrPlaceholder) {
		t.Errorf("expected ErrPlaceholder, got %v", err)
	}
}
