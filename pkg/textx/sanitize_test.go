// Package textx contains tests for the text utilities.
package textx

import (
	"strings"
	"testing"
)

func TestSanitizeMessage(t *testing.T) {
	in := "sto\x00rage un\x7freachable\nafter retry\t!"
	got := SanitizeMessage(in)
	if got != "storage unreachable after retry !" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSanitizeMessageCapsLength(t *testing.T) {
	in := strings.Repeat("x", 2000)
	got := SanitizeMessage(in)
	if len(got) != 512 {
		t.Fatalf("expected cap at 512, got %d", len(got))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 3); got != "hél" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Truncate("ok", 10); got != "ok" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Truncate("drop", 0); got != "" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSafeSegment(t *testing.T) {
	cases := []struct {
		in, fallback, want string
	}{
		{"user-42", "anonymous", "user-42"},
		{"u/../etc", "anonymous", "u-..-etc"},
		{"alice@example.com", "anonymous", "alice-example.com"},
		{"", "anonymous", "anonymous"},
		{"///", "anonymous", "anonymous"},
		{"..", "anonymous", "anonymous"},
		{"Ünïcode", "anonymous", "n-code"},
	}
	for _, tc := range cases {
		if got := SafeSegment(tc.in, tc.fallback); got != tc.want {
			t.Fatalf("SafeSegment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
