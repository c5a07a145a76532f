package credentials

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Penacillin/knocker/pkg/errors"
)

// Pair is a username and its password.
type Pair struct {
	Username string
	Password string
}

// PasswordSource reads a password after printing prompt.
type PasswordSource interface {
	ReadPassword(ctx context.Context, prompt string) (string, error)
}

// Prompt returns the interactive password prompt for username.
func Prompt(username string) string {
	return fmt.Sprintf("Enter password for <%s> : ", username)
}

// Acquire builds a Pair. The username is mandatory. A non-nil password is
// used as given, even when empty; otherwise src is asked for one.
func Acquire(ctx context.Context, username string, password *string, src PasswordSource) (Pair, error) {
	if username == "" {
		return Pair{}, errors.Usagef("username is required")
	}
	if password != nil {
		slog.Debug("password_from_flags", "username", username)
		return Pair{Username: username, Password: *password}, nil
	}

	pass, err := src.ReadPassword(ctx, Prompt(username))
	if err != nil {
		return Pair{}, errors.Wrap(err, "password entry failed")
	}
	slog.Debug("password_from_prompt", "username", username)
	return Pair{Username: username, Password: pass}, nil
}
