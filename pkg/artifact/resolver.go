// Package artifact locates the device configuration files required to open
// a DRM processor session.
package artifact

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/spf13/afero"
)

// Default bare filenames of the configuration artifacts.
const (
	DeviceFile     = "device.xml"
	ActivationFile = "activation.xml"
	DeviceKeyFile  = "devicesalt"
)

// DefaultSearchDirs are tried in order after the requested path itself.
var DefaultSearchDirs = []string{
	".adept",
	"adobe-digital-editions",
	".adobe-digital-editions",
}

// Set holds the requested path of each configuration artifact. An empty
// field means the default bare filename.
type Set struct {
	DeviceFile     string
	ActivationFile string
	DeviceKeyFile  string
}

// NotFoundError lists every artifact that could not be located.
type NotFoundError struct {
	Missing []string
}

func (e *NotFoundError) Error() string {
	lines := make([]string, 0, len(e.Missing))
	for _, name := range e.Missing {
		lines = append(lines, fmt.Sprintf("Error : %s doesn't exists, did you activate your device ?", name))
	}
	return strings.Join(lines, "\n")
}

func (e *NotFoundError) Is(target error) bool { return target == errors.ErrArtifactNotFound }

// Resolver searches for artifacts on a filesystem.
type Resolver struct {
	fs   afero.Fs
	dirs []string
}

// NewResolver creates a resolver over fs. With no dirs, DefaultSearchDirs
// are used.
func NewResolver(fs afero.Fs, dirs ...string) *Resolver {
	if len(dirs) == 0 {
		dirs = DefaultSearchDirs
	}
	return &Resolver{fs: fs, dirs: dirs}
}

// Candidates returns the paths tried for name, in order.
func (r *Resolver) Candidates(name string) []string {
	out := make([]string, 0, len(r.dirs)+1)
	out = append(out, name)
	for _, dir := range r.dirs {
		out = append(out, filepath.Join(dir, name))
	}
	return out
}

// Find returns the first candidate for name that is an existing file.
func (r *Resolver) Find(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for _, candidate := range r.Candidates(name) {
		fi, err := r.fs.Stat(candidate)
		if err == nil && !fi.IsDir() {
			slog.Debug("artifact_found", "name", name, "path", candidate)
			return candidate, true
		}
	}
	slog.Debug("artifact_missing", "name", name)
	return "", false
}

// Resolve locates all three artifacts of s. Missing artifacts are collected
// and returned together as a *NotFoundError.
func (r *Resolver) Resolve(s Set) (drm.Artifacts, error) {
	var (
		out     drm.Artifacts
		missing []string
	)

	targets := []struct {
		requested string
		fallback  string
		dst       *string
	}{
		{s.DeviceFile, DeviceFile, &out.DeviceFile},
		{s.ActivationFile, ActivationFile, &out.ActivationFile},
		{s.DeviceKeyFile, DeviceKeyFile, &out.DeviceKeyFile},
	}

	for _, t := range targets {
		name := t.requested
		if name == "" {
			name = t.fallback
		}
		path, ok := r.Find(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		*t.dst = path
	}

	if len(missing) > 0 {
		slog.Warn("artifacts_missing", "missing", missing)
		return drm.Artifacts{}, &NotFoundError{Missing: missing}
	}

	slog.Info("artifacts_resolved",
		"device_file", out.DeviceFile,
		"activation_file", out.ActivationFile,
		"device_key_file", out.DeviceKeyFile)
	return out, nil
}
