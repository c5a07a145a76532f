package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// FallbackName is used when item metadata yields no usable filename.
const FallbackName = "output"

// maxNameBytes keeps derived names below common filesystem limits, leaving
// room for the extension appended after download.
const maxNameBytes = 240

// ValidatePath checks that a derived name stays inside its output directory.
func ValidatePath(name string) error {
	if name == "" {
		return fmt.Errorf("security: empty filename")
	}

	// Reject absolute paths
	if filepath.IsAbs(name) {
		slog.Error("security_path_validation_failed", "path", name, "reason", "absolute_path")
		return fmt.Errorf("security: absolute path not allowed: %s", name)
	}

	// Reject anything that is not a single path element
	clean := filepath.Clean(name)
	if clean != filepath.Base(clean) || clean == "." || clean == ".." {
		slog.Error("security_path_validation_failed", "path", name, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", name)
	}

	return nil
}

// SanitizeTitle turns item metadata into a filename that cannot leave the
// output directory. Separators and control characters become '_'.
func SanitizeTitle(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		}
		return r
	}, strings.TrimSpace(title))

	if len(name) > maxNameBytes {
		name = truncateUTF8(name, maxNameBytes)
	}

	if err := ValidatePath(name); err != nil {
		slog.Warn("title_rejected", "title", title, "fallback", FallbackName)
		return FallbackName
	}
	return name
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xc0 == 0x80 {
		n--
	}
	return s[:n]
}
