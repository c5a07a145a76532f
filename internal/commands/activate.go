package commands

import (
	"fmt"

	"github.com/Penacillin/knocker/internal/config"
	"github.com/Penacillin/knocker/pkg/credentials"
	"github.com/Penacillin/knocker/pkg/errors"
	appfsm "github.com/Penacillin/knocker/pkg/fsm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type activateOptions struct {
	username         string
	password         string
	outputDir        string
	processorVersion string
	randomSerial     bool
	verbosity        int
	showVersion      bool
}

// NewActivateCommand builds the adept-activate command.
func NewActivateCommand(deps Deps) *cobra.Command {
	var opts activateOptions
	v := viper.New()

	cmd := newRoot(&cobra.Command{
		Use:   "adept-activate",
		Short: "Create a new device with an AdobeID",
		Long: `Sign in to the AdobeID service and register a new reading device.

The device files (device.xml, activation.xml, devicesalt) are written to the
output directory, ./.adept by default. An explicit output directory must not
already exist.

A password given with -p is visible to other processes that can read this
process's arguments. Omit it to be prompted instead.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(deps.Stderr, opts.verbosity)
		},
	}, deps)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runActivate(cmd, deps, v, &opts)
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.username, "username", "u", "", "AdobeID username (ie adobe.com email account)")
	flags.StringVarP(&opts.password, "password", "p", "", "AdobeID password (asked if not set via command line)")
	flags.StringVarP(&opts.outputDir, "output-dir", "O", "", "Output directory for device files (default ./.adept); must not already exist")
	flags.StringVarP(&opts.processorVersion, "hobbes-version", "H", "", "Force RMSDK version to report (default: processor version)")
	flags.BoolVarP(&opts.randomSerial, "random-serial", "r", false, "Generate a random device serial instead of one derived from this machine")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity, can be set multiple times")
	flags.BoolVarP(&opts.showVersion, "version", "V", false, "Display processor version")
	ambientFlags(cmd.PersistentFlags(), v)

	return cmd
}

func runActivate(cmd *cobra.Command, deps Deps, v *viper.Viper, opts *activateOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	factory, err := deps.NewFactory(cfg, opts.verbosity)
	if err != nil {
		return errors.Wrap(err, "processor init failed")
	}

	if opts.showVersion {
		return printVersion(ctx, cmd.OutOrStdout(), factory)
	}

	act := &config.Activation{
		Username:         opts.username,
		OutputDir:        opts.outputDir,
		ProcessorVersion: opts.processorVersion,
		RandomSerial:     opts.randomSerial,
		Verbosity:        opts.verbosity,
	}
	if cmd.Flags().Changed("password") {
		act.Password = &opts.password
	}
	if err := act.Validate(); err != nil {
		return err
	}

	cwd, err := deps.Getwd()
	if err != nil {
		return errors.Wrap(err, "failed to get working directory")
	}

	if err := ensureDirectories(cfg.LedgerPath, cfg.StateDir); err != nil {
		return err
	}

	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	manager, closeManager, err := appfsm.OpenManager(cfg.StateDir)
	if err != nil {
		return err
	}
	defer closeManager()

	req := appfsm.ActivationRequest{
		Username:         act.Username,
		DeviceDir:        act.DeviceDir(cwd),
		ExplicitDir:      act.OutputDir != "",
		ProcessorVersion: act.ProcessorVersion,
		RandomSerial:     act.RandomSerial,
	}

	src := credentials.NewReader(deps.Stdin, cmd.OutOrStdout(), deps.Terminal, cfg.MaskPassword)
	acquire := func() (credentials.Pair, error) {
		return credentials.Acquire(ctx, act.Username, act.Password, src)
	}

	resp, err := appfsm.NewActivator(factory, deps.Fs, ledger).Run(ctx, manager, req, acquire)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s fully signed and device activated in %s\n", resp.Username, resp.DeviceDir)
	return nil
}
