// Package drmtest provides an in-memory DRM processor for workflow tests.
package drmtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/spf13/afero"
)

// Item is a fulfilled item with fixed metadata.
type Item struct {
	Meta map[string]string
}

func (i *Item) Metadata(key string) string { return i.Meta[key] }

type user string

func (u user) Username() string { return string(u) }

// Factory builds Fake processors and records every call made to them.
type Factory struct {
	Fs         afero.Fs
	Username   string
	Title      string
	Type       drm.ItemType
	Content    []byte
	VersionStr string

	// Failures keyed by call name ("signin", "activate", "fulfill",
	// "download", "export", "open", "new_activator").
	Fail map[string]error

	mu            sync.Mutex
	Calls         []string
	ActivationOpt drm.ActivationOptions
	OpenedWith    drm.Artifacts
	SignedInAs    string
	Password      string
}

// NewFactory returns a factory writing to fs.
func NewFactory(fs afero.Fs) *Factory {
	return &Factory{
		Fs:         fs,
		Username:   "reader@example.com",
		Content:    []byte("content"),
		VersionStr: "0.0.0-test",
	}
}

func (f *Factory) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	return f.Fail[call]
}

// Called reports whether call was made.
func (f *Factory) Called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *Factory) NewActivator(ctx context.Context, opts drm.ActivationOptions) (drm.Processor, error) {
	if err := f.record("new_activator"); err != nil {
		return nil, err
	}
	f.ActivationOpt = opts
	return &Fake{f: f, deviceDir: opts.DeviceDir}, nil
}

func (f *Factory) Open(ctx context.Context, files drm.Artifacts) (drm.Processor, error) {
	if err := f.record("open"); err != nil {
		return nil, err
	}
	f.OpenedWith = files
	return &Fake{f: f}, nil
}

func (f *Factory) Version(ctx context.Context) (string, error) {
	return f.VersionStr, nil
}

// Fake is a processor session.
type Fake struct {
	f         *Factory
	deviceDir string
	username  string
	closed    bool
}

func (p *Fake) SignIn(ctx context.Context, username, password string) error {
	if err := p.f.record("signin"); err != nil {
		return err
	}
	p.username = username
	p.f.SignedInAs = username
	p.f.Password = password
	return nil
}

func (p *Fake) ActivateDevice(ctx context.Context) error {
	if err := p.f.record("activate"); err != nil {
		return err
	}
	if p.username == "" {
		return fmt.Errorf("not signed in")
	}
	if err := p.f.Fs.MkdirAll(p.deviceDir, 0o700); err != nil {
		return err
	}
	for _, name := range []string{"device.xml", "activation.xml", "devicesalt"} {
		if err := afero.WriteFile(p.f.Fs, filepath.Join(p.deviceDir, name), []byte(p.username), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func (p *Fake) Fulfill(ctx context.Context, requestPath string) (drm.Item, error) {
	if err := p.f.record("fulfill"); err != nil {
		return nil, err
	}
	meta := map[string]string{}
	if p.f.Title != "" {
		meta["title"] = p.f.Title
	}
	return &Item{Meta: meta}, nil
}

func (p *Fake) Download(ctx context.Context, item drm.Item, path string) (drm.ItemType, error) {
	if err := p.f.record("download"); err != nil {
		return drm.EPUB, err
	}
	if err := afero.WriteFile(p.f.Fs, path, p.f.Content, 0o644); err != nil {
		return drm.EPUB, err
	}
	return p.f.Type, nil
}

func (p *Fake) ExportPrivateLicenseKey(ctx context.Context, path string) error {
	if err := p.f.record("export"); err != nil {
		return err
	}
	return afero.WriteFile(p.f.Fs, path, []byte("DER"), 0o600)
}

func (p *Fake) User() drm.User {
	if p.username != "" {
		return user(p.username)
	}
	return user(p.f.Username)
}

func (p *Fake) Close() error {
	p.closed = true
	return nil
}
