package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{"q", Command{Name: "quit"}},
		{"  Search  hello world ", Command{Name: "search", Args: "hello world"}},
		{":chat Bia", Command{Name: "chat", Args: "Bia"}},
		{"n 42", Command{Name: "new", Args: "42"}},
		{"send /tmp/a b.png", Command{Name: "send", Args: "/tmp/a b.png"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
