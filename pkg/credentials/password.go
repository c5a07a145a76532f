// Package credentials obtains the username/password pair used to sign in to
// the credential issuing service.
package credentials

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

const (
	keyBackspace = 0x7f
	keyCtrlH     = 0x08
	keyCtrlC     = 0x03
	keyCtrlD     = 0x04
	keyReturn    = '\r'
	keyNewline   = '\n'
)

// ErrPasswordInterrupted is returned when input ends, is aborted with
// Ctrl-C/Ctrl-D or the context is cancelled before a return keystroke.
var ErrPasswordInterrupted = stderrors.New("password entry interrupted")

// Terminal switches an input device to unbuffered, echo-free mode.
type Terminal interface {
	// MakeRaw changes the mode and returns a function restoring the previous one.
	MakeRaw() (restore func() error, err error)
}

type fdTerminal struct {
	fd int
}

func (t fdTerminal) MakeRaw() (func() error, error) {
	state, err := term.MakeRaw(t.fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(t.fd, state) }, nil
}

// TerminalFor returns a Terminal for f, or nil when f is not a terminal.
func TerminalFor(f *os.File) Terminal {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return fdTerminal{fd: fd}
}

// Reader captures a password one byte at a time.
type Reader struct {
	in   io.Reader
	out  io.Writer
	term Terminal
	mask bool
}

// NewReader reads from in and writes prompts to out. A nil t means in is not
// a terminal and its mode is left alone. With mask set every captured byte
// is echoed as '*'.
func NewReader(in io.Reader, out io.Writer, t Terminal, mask bool) *Reader {
	return &Reader{in: in, out: out, term: t, mask: mask}
}

// ReadPassword prints prompt and reads until return. Cancelling ctx abandons
// the read with ErrPasswordInterrupted. The terminal mode is restored before
// ReadPassword returns, whatever the outcome.
func (r *Reader) ReadPassword(ctx context.Context, prompt string) (pass string, err error) {
	newline := "\n"
	if r.term != nil {
		restore, merr := r.term.MakeRaw()
		if merr != nil {
			return "", fmt.Errorf("failed to disable terminal echo: %w", merr)
		}
		newline = "\r\n"
		defer func() {
			if rerr := restore(); rerr != nil {
				slog.Error("terminal_restore_failed", "error", rerr)
				if err == nil {
					err = fmt.Errorf("failed to restore terminal: %w", rerr)
				}
			}
		}()
	}

	fmt.Fprint(r.out, prompt)
	defer fmt.Fprint(r.out, newline)

	type result struct {
		pass string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := r.capture(ctx)
		done <- result{pass: p, err: err}
	}()

	select {
	case res := <-done:
		return res.pass, res.err
	case <-ctx.Done():
		slog.Warn("password_entry_cancelled", "error", ctx.Err())
		return "", ErrPasswordInterrupted
	}
}

// capture reads bytes until return. It stops echoing once ctx is done.
func (r *Reader) capture(ctx context.Context) (string, error) {
	var buf []byte
	b := make([]byte, 1)
	for {
		n, rerr := r.in.Read(b)
		if ctx.Err() != nil {
			wipe(buf)
			return "", ErrPasswordInterrupted
		}
		if n == 1 {
			switch c := b[0]; c {
			case keyReturn, keyNewline:
				pass := string(buf)
				wipe(buf)
				return pass, nil
			case keyBackspace, keyCtrlH:
				if len(buf) > 0 {
					buf[len(buf)-1] = 0
					buf = buf[:len(buf)-1]
					if r.mask {
						fmt.Fprint(r.out, "\b \b")
					}
				}
			case keyCtrlC, keyCtrlD:
				wipe(buf)
				return "", ErrPasswordInterrupted
			default:
				buf = append(buf, c)
				if r.mask {
					fmt.Fprint(r.out, "*")
				}
			}
			b[0] = 0
		}
		if rerr == io.EOF {
			wipe(buf)
			return "", ErrPasswordInterrupted
		}
		if rerr != nil {
			wipe(buf)
			return "", fmt.Errorf("failed to read password: %w", rerr)
		}
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
