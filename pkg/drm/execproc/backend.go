// Package execproc reaches the DRM processor through an external helper
// executable. Each operation runs
//
//	<command> <op> [-v...] [--flag value...]
//
// and decodes a single JSON object from the helper's standard output. A
// non-empty "error" field, or a non-zero exit status, fails the operation
// with the helper's message. Credentials travel on standard input, never on
// the helper's command line.
package execproc

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/errors"
)

// Operation names understood by the helper.
const (
	OpVersion   = "version"
	OpSignIn    = "signin"
	OpActivate  = "activate"
	OpUser      = "user"
	OpFulfill   = "fulfill"
	OpDownload  = "download"
	OpExportKey = "export-key"
)

// Backend is a drm.Factory backed by a helper executable.
type Backend struct {
	argv      []string
	verbosity int
	stderr    io.Writer
}

// New returns a Backend running argv (program followed by fixed arguments).
// verbosity is forwarded as repeated -v flags.
func New(argv []string, verbosity int) (*Backend, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("processor command is empty")
	}
	return &Backend{argv: argv, verbosity: verbosity, stderr: os.Stderr}, nil
}

// SetStderr redirects the helper's diagnostic output.
func (b *Backend) SetStderr(w io.Writer) { b.stderr = w }

type reply struct {
	Error    string            `json:"error"`
	Version  string            `json:"version"`
	Username string            `json:"username"`
	Metadata map[string]string `json:"metadata"`
	Type     string            `json:"type"`
}

func (b *Backend) run(ctx context.Context, op string, args []string, stdin any) (*reply, error) {
	cmdArgs := append([]string{}, b.argv[1:]...)
	cmdArgs = append(cmdArgs, op)
	for i := 0; i < b.verbosity; i++ {
		cmdArgs = append(cmdArgs, "-v")
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, b.argv[0], cmdArgs...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = b.stderr
	if stdin != nil {
		payload, err := json.Marshal(stdin)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode helper input")
		}
		cmd.Stdin = bytes.NewReader(payload)
	}

	slog.Debug("processor_exec", "op", op, "args", args)
	runErr := cmd.Run()

	var r reply
	decodeErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &r)

	switch {
	case decodeErr == nil && r.Error != "":
		slog.Warn("processor_op_failed", "op", op, "error", r.Error)
		return nil, errors.Collaborator(stderrors.New(r.Error))
	case runErr != nil:
		slog.Error("processor_exec_failed", "op", op, "error", runErr)
		return nil, errors.Collaborator(fmt.Errorf("processor %s failed: %w", op, runErr))
	case decodeErr != nil:
		slog.Error("processor_reply_invalid", "op", op, "error", decodeErr)
		return nil, errors.Collaborator(fmt.Errorf("processor %s returned an invalid reply: %w", op, decodeErr))
	}
	return &r, nil
}

// Version implements drm.Factory.
func (b *Backend) Version(ctx context.Context) (string, error) {
	r, err := b.run(ctx, OpVersion, nil, nil)
	if err != nil {
		return "", err
	}
	return r.Version, nil
}

// NewActivator implements drm.Factory.
func (b *Backend) NewActivator(ctx context.Context, opts drm.ActivationOptions) (drm.Processor, error) {
	args := []string{"--device-dir", opts.DeviceDir}
	if opts.ProcessorVersion != "" {
		args = append(args, "--hobbes-version", opts.ProcessorVersion)
	}
	if opts.RandomSerial {
		args = append(args, "--random-serial")
	}
	return &session{b: b, deviceArgs: args}, nil
}

// Open implements drm.Factory. The helper validates the artifacts and
// reports the account they belong to.
func (b *Backend) Open(ctx context.Context, files drm.Artifacts) (drm.Processor, error) {
	args := []string{
		"--device-file", files.DeviceFile,
		"--activation-file", files.ActivationFile,
		"--device-key-file", files.DeviceKeyFile,
	}
	r, err := b.run(ctx, OpUser, args, nil)
	if err != nil {
		return nil, err
	}
	return &session{b: b, fileArgs: args, username: r.Username}, nil
}

type session struct {
	b          *Backend
	deviceArgs []string
	fileArgs   []string
	username   string
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type item struct {
	request  string
	metadata map[string]string
}

func (i *item) Metadata(key string) string { return i.metadata[key] }

type user string

func (u user) Username() string { return string(u) }

func (s *session) SignIn(ctx context.Context, username, password string) error {
	if _, err := s.b.run(ctx, OpSignIn, s.deviceArgs, credentials{Username: username, Password: password}); err != nil {
		return err
	}
	s.username = username
	return nil
}

func (s *session) ActivateDevice(ctx context.Context) error {
	_, err := s.b.run(ctx, OpActivate, s.deviceArgs, nil)
	return err
}

func (s *session) Fulfill(ctx context.Context, requestPath string) (drm.Item, error) {
	r, err := s.b.run(ctx, OpFulfill, append(s.args(), "--acsm", requestPath), nil)
	if err != nil {
		return nil, err
	}
	return &item{request: requestPath, metadata: r.Metadata}, nil
}

func (s *session) Download(ctx context.Context, it drm.Item, path string) (drm.ItemType, error) {
	fi, ok := it.(*item)
	if !ok {
		return drm.EPUB, fmt.Errorf("item %T was not produced by this processor", it)
	}
	r, err := s.b.run(ctx, OpDownload, append(s.args(), "--acsm", fi.request, "--output", path), nil)
	if err != nil {
		return drm.EPUB, err
	}
	return drm.ParseItemType(strings.TrimSpace(r.Type)), nil
}

func (s *session) ExportPrivateLicenseKey(ctx context.Context, path string) error {
	_, err := s.b.run(ctx, OpExportKey, append(s.args(), "--output", path), nil)
	return err
}

func (s *session) User() drm.User { return user(s.username) }

func (s *session) Close() error { return nil }

func (s *session) args() []string {
	return append([]string{}, s.fileArgs...)
}
