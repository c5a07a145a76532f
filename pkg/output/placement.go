// Package output derives and finalizes the location of produced artifacts.
//
// Content is written under a stable, extension-free name and published under
// its final name with a single rename once the download has completed, so an
// interrupted run never leaves a misleadingly named file behind.
package output

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/Penacillin/knocker/pkg/security"
	"github.com/spf13/afero"
)

// KeyFilePrefix and KeyFileExt form the default private key export name.
const (
	KeyFilePrefix = "Adobe_PrivateLicenseKey--"
	KeyFileExt    = ".der"
)

// Extension returns the file extension for a content classification.
func Extension(t drm.ItemType) string {
	if t == drm.PDF {
		return ".pdf"
	}
	return ".epub"
}

// ContentName picks the download filename: the explicit override, else the
// sanitized item title, else security.FallbackName.
func ContentName(override string, item drm.Item) string {
	if override != "" {
		return override
	}
	if item == nil {
		return security.FallbackName
	}
	return security.SanitizeTitle(item.Metadata("title"))
}

// KeyName picks the private key export filename.
func KeyName(override, username string) string {
	if override != "" {
		return override
	}
	return KeyFilePrefix + security.SanitizeTitle(username) + KeyFileExt
}

// Placer creates output directories and publishes finished artifacts.
type Placer struct {
	fs afero.Fs
}

// NewPlacer returns a Placer over fs.
func NewPlacer(fs afero.Fs) *Placer {
	return &Placer{fs: fs}
}

// Target returns name placed under dir, creating dir and any missing
// parents. An empty dir leaves name untouched.
func (p *Placer) Target(dir, name string) (string, error) {
	if dir == "" {
		return name, nil
	}
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		slog.Error("output_dir_creation_failed", "dir", dir, "error", err)
		return "", errors.Filesystem(err, fmt.Sprintf("failed to create output directory %s", dir))
	}
	return filepath.Join(dir, name), nil
}

// Commit renames the staged download to its final, extension-bearing name.
func (p *Placer) Commit(staged string, t drm.ItemType) (string, error) {
	final := staged + Extension(t)
	if err := p.fs.Rename(staged, final); err != nil {
		slog.Error("output_commit_failed", "staged", staged, "final", final, "error", err)
		return "", errors.Filesystem(err, fmt.Sprintf("failed to rename %s to %s", staged, final))
	}
	slog.Info("output_committed", "staged", staged, "final", final, "type", t.String())
	return final, nil
}

// Digest returns the hex SHA-256 of path.
func (p *Placer) Digest(path string) (string, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open output")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "failed to hash output")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
