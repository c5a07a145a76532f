package commands

import (
	"fmt"

	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHistoryCommand(deps Deps, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recorded fulfillments and device activations",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, v)
		},
	}
}

func runHistory(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if cfg.LedgerPath == "" {
		return errors.Usagef("history requires --ledger-path (or ADEPT_LEDGER_PATH)")
	}

	// Ensure ledger directory exists
	if err := ensureDirectories(cfg.LedgerPath, ""); err != nil {
		return err
	}

	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	rows, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}
	activations, err := repo.ListActivations()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 && len(activations) == 0 {
		fmt.Fprintln(out, "No history found")
		return nil
	}

	if len(rows) > 0 {
		fmt.Fprintf(out, "%-6s %-8s %-12s %-40s %-30s\n", "ID", "KIND", "STATUS", "OUTPUT", "REQUEST")
		fmt.Fprintln(out, "--------------------------------------------------------------------------------------------------")
		for _, f := range rows {
			output := f.OutputPath
			if output == "" {
				output = "-"
			}
			request := f.RequestPath
			if request == "" {
				request = "-"
			}
			fmt.Fprintf(out, "%-6d %-8s %-12s %-40s %-30s\n", f.ID, f.Kind, f.Status, output, request)
		}
	}

	if len(activations) > 0 {
		if len(rows) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%-40s %-40s %-20s\n", "USERNAME", "DEVICE DIR", "ACTIVATED")
		fmt.Fprintln(out, "--------------------------------------------------------------------------------------------------")
		for _, a := range activations {
			fmt.Fprintf(out, "%-40s %-40s %-20s\n", a.Username, a.DeviceDir, a.CreatedAt)
		}
	}

	return nil
}
