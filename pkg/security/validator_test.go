package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"MyBook", false},
		{"My Book (2nd ed.)", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/file", true},
	}

	for _, tt := range tests {
		err := ValidatePath(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for path: %q", tt.path)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for path %q: %v", tt.path, err)
		}
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"MyBook", "MyBook"},
		{"  Spaced  ", "Spaced"},
		{"AC/DC: A Biography", "AC_DC: A Biography"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"tab\there", "tab_here"},
		{"..", FallbackName},
		{"", FallbackName},
		{"   ", FallbackName},
	}

	for _, tt := range tests {
		if got := SanitizeTitle(tt.title); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestSanitizeTitle_Truncates(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := SanitizeTitle(long)
	if len(got) > maxNameBytes {
		t.Errorf("expected at most %d bytes, got %d", maxNameBytes, len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte character")
	}
}
