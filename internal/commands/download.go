package commands

import (
	"fmt"
	"strings"

	"github.com/Penacillin/knocker/internal/config"
	"github.com/Penacillin/knocker/pkg/artifact"
	"github.com/Penacillin/knocker/pkg/errors"
	appfsm "github.com/Penacillin/knocker/pkg/fsm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type downloadOptions struct {
	deviceFile       string
	activationFile   string
	deviceKeyFile    string
	outputDir        string
	outputFile       string
	requestFile      string
	exportPrivateKey bool
	verbosity        int
	showVersion      bool
}

// NewDownloadCommand builds the acsm-downloader command and its history
// subcommand.
func NewDownloadCommand(deps Deps) *cobra.Command {
	var opts downloadOptions
	v := viper.New()

	cmd := newRoot(&cobra.Command{
		Use:   "acsm-downloader",
		Short: "Download EPUB file from ACSM request file",
		Long: `Fulfill an ACSM request file and download the content it grants, or
export the device's private license key.

Device files not found at the given (or default) name are searched for in
the following directories, in order:
  ` + strings.Join(artifact.DefaultSearchDirs, "\n  ") + `

Without -o the file is named after the item title and gets a .pdf or .epub
extension once the download completes.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(deps.Stderr, opts.verbosity)
		},
	}, deps)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runDownload(cmd, deps, v, &opts)
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.deviceFile, "device-file", "d", "", "device.xml file from eReader")
	flags.StringVarP(&opts.activationFile, "activation-file", "a", "", "activation.xml file from eReader")
	flags.StringVarP(&opts.deviceKeyFile, "device-key-file", "k", "", "private device key file (eg devicesalt/devkey.bin) from eReader")
	flags.StringVarP(&opts.outputDir, "output-dir", "O", "", "Optional output directory were to put result (will be created if not exists)")
	flags.StringVarP(&opts.outputFile, "output-file", "o", "", "Optional output filename (default <title.(epub|pdf|der)>)")
	flags.StringVarP(&opts.requestFile, "acsm-file", "f", "", "ACSM request file for epub download")
	flags.BoolVarP(&opts.exportPrivateKey, "export-private-key", "e", false, "Export private key in DER format")
	flags.BoolVarP(&opts.showVersion, "version", "V", false, "Display processor version")
	cmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity, can be set multiple times")
	ambientFlags(cmd.PersistentFlags(), v)

	cmd.AddCommand(newHistoryCommand(deps, v))
	return cmd
}

func runDownload(cmd *cobra.Command, deps Deps, v *viper.Viper, opts *downloadOptions) error {
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

	if err := nonEmpty(cmd, "output-dir", "output-file"); err != nil {
		return err
	}

	ful := &config.Fulfillment{
		Artifacts: artifact.Set{
			DeviceFile:     opts.deviceFile,
			ActivationFile: opts.activationFile,
			DeviceKeyFile:  opts.deviceKeyFile,
		},
		OutputDir:        opts.outputDir,
		OutputFile:       opts.outputFile,
		RequestFile:      opts.requestFile,
		ExportPrivateKey: opts.exportPrivateKey,
		Verbosity:        opts.verbosity,
	}
	if err := ful.Validate(); err != nil {
		return err
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

	mirror, err := openMirror(ctx, deps, cfg)
	if err != nil {
		return err
	}

	manager, closeManager, err := appfsm.OpenManager(cfg.StateDir)
	if err != nil {
		return err
	}
	defer closeManager()

	f := appfsm.NewFulfiller(factory, deps.Fs, artifact.NewResolver(deps.Fs), ledger, mirror)
	resp, err := f.Run(ctx, manager, appfsm.FulfillmentRequest{
		Artifacts:        ful.Artifacts,
		RequestPath:      ful.RequestFile,
		ExportPrivateKey: ful.ExportPrivateKey,
		OutputDir:        ful.OutputDir,
		OutputFile:       ful.OutputFile,
	})
	if err != nil {
		return err
	}

	if ful.ExportPrivateKey {
		fmt.Fprintf(cmd.OutOrStdout(), "Private license key exported to %s\n", resp.OutputPath)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", resp.OutputPath)
	}
	return nil
}
