package storage

import (
	"path/filepath"
	"testing"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, local, want string
	}{
		{"", "MyBook.epub", "MyBook.epub"},
		{"books", filepath.Join("out", "MyBook.epub"), "books/MyBook.epub"},
		{"books/", "MyBook.pdf", "books/MyBook.pdf"},
		{"keys/2024", filepath.Join("a", "b", "Adobe_PrivateLicenseKey--alice.der"), "keys/2024/Adobe_PrivateLicenseKey--alice.der"},
	}

	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.local); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.local, got, tt.want)
		}
	}
}
