package views

import (
	"testing"
	"time"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj family", "\U0001F468\u200d\U0001F469", "\U0001F468\U0001F469"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"control chars", "a\x1b[31mb\x07", "a[31mb"},
		{"keeps newline and tab", "a\nb\tc", "a\nb\tc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	if got := preview("  one\n two  ", 20); got != "one two" {
		t.Errorf("preview = %q", got)
	}
	if got := preview("abcdef", 4); got != "abc…" {
		t.Errorf("preview truncated = %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(time.Time{}); got != "" {
		t.Errorf("zero time = %q", got)
	}
	now := time.Now()
	if got := formatTimestamp(now); got != now.Format("15:04") {
		t.Errorf("today = %q", got)
	}
	old := now.AddDate(0, -2, 0)
	if got := formatTimestamp(old); got != old.Format("01/02") {
		t.Errorf("older = %q", got)
	}
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		name, in, q, want string
	}{
		{"no query", "hi [x]", "", "hi [x[]"},
		{"no match", "hello", "bye", "hello"},
		{"case-insensitive", "Hello hello", "hello", "[red::b]Hello[-::-] [red::b]hello[-::-]"},
		{"escapes around match", "[a] ok", "ok", "[a[] [red::b]ok[-::-]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := highlight(tt.in, tt.q, "red"); got != tt.want {
				t.Errorf("highlight(%q, %q) = %q, want %q", tt.in, tt.q, got, tt.want)
			}
		})
	}
}
