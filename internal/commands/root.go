// Package commands builds the adept-activate and acsm-downloader command
// trees.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Penacillin/knocker/internal/config"
	"github.com/Penacillin/knocker/pkg/credentials"
	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/drm/execproc"
	"github.com/Penacillin/knocker/pkg/errors"
	appfsm "github.com/Penacillin/knocker/pkg/fsm"
	"github.com/Penacillin/knocker/pkg/storage"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Deps are the process resources a command runs against.
type Deps struct {
	Fs     afero.Fs
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Terminal is nil when Stdin is not a terminal.
	Terminal credentials.Terminal
	Getwd    func() (string, error)

	NewFactory func(cfg *config.Config, verbosity int) (drm.Factory, error)
	// NewMirror is only called when s3-bucket is set.
	NewMirror func(ctx context.Context, cfg *config.Config) (appfsm.Mirror, error)
}

// DefaultDeps wires the commands to the real process environment.
func DefaultDeps() Deps {
	return Deps{
		Fs:       afero.NewOsFs(),
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Terminal: credentials.TerminalFor(os.Stdin),
		Getwd:    os.Getwd,
		NewFactory: func(cfg *config.Config, verbosity int) (drm.Factory, error) {
			b, err := execproc.New(cfg.ProcessorArgv(), verbosity)
			if err != nil {
				return nil, err
			}
			return b, nil
		},
		NewMirror: func(ctx context.Context, cfg *config.Config) (appfsm.Mirror, error) {
			c, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// Execute runs cmd and maps the outcome to an exit code. Failure messages
// go to standard output.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	c, err := cmd.ExecuteContextC(ctx)
	if err == nil {
		return ExitOK
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, err)
	if errors.Is(err, errors.ErrUsage) {
		fmt.Fprintln(out)
		fmt.Fprint(out, c.UsageString())
		return ExitUsage
	}
	return ExitFailure
}

// ambientFlags registers the settings shared by both commands on flags and
// binds them to v.
func ambientFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("processor-command", config.DefaultProcessorCommand, "DRM processor helper command line")
	flags.String("state-dir", "", "FSM state directory (default: per-run temporary directory)")
	flags.String("ledger-path", "", "SQLite ledger of activations and fulfillments (disabled when empty)")
	flags.String("s3-bucket", "", "S3 bucket mirroring produced files (disabled when empty)")
	flags.String("s3-region", config.DefaultS3Region, "S3 region")
	flags.String("s3-prefix", "", "S3 key prefix")
	flags.Bool("mask-password", false, "Echo '*' for each password character typed")

	for _, name := range []string{"processor-command", "state-dir", "ledger-path", "s3-bucket", "s3-region", "s3-prefix", "mask-password"} {
		v.BindPFlag(name, flags.Lookup(name))
	}
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Usagef("config invalid: %v", err)
	}
	return cfg, nil
}

// configureLogging sends structured logs to w. Each -v raises the level one
// step from Warn.
func configureLogging(w io.Writer, verbosity int) {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func usageFlagError(cmd *cobra.Command, err error) error {
	return errors.Usagef("%v", err)
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errors.Usagef("unexpected argument %q", args[0])
	}
	return nil
}

// newRoot applies the settings shared by both command trees.
func newRoot(cmd *cobra.Command, deps Deps) *cobra.Command {
	cmd.Args = noArgs
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	cmd.SetIn(deps.Stdin)
	cmd.SetOut(deps.Stdout)
	cmd.SetErr(deps.Stdout)
	cmd.SetFlagErrorFunc(usageFlagError)
	return cmd
}

// nonEmpty rejects a flag that was given explicitly with an empty value.
func nonEmpty(cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed && f.Value.String() == "" {
			return errors.Usagef("-%s|--%s cannot be empty", f.Shorthand, f.Name)
		}
	}
	return nil
}

func printVersion(ctx context.Context, w io.Writer, factory drm.Factory) error {
	v, err := factory.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current processor version : %s\n", v)
	return nil
}
