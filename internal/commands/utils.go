package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Penacillin/knocker/internal/config"
	"github.com/Penacillin/knocker/pkg/db"
	"github.com/Penacillin/knocker/pkg/errors"
	appfsm "github.com/Penacillin/knocker/pkg/fsm"
)

// ensureDirectories creates the directories holding the ledger and FSM state
func ensureDirectories(ledgerPath, stateDir string) error {
	// Create ledger directory
	if ledgerPath != "" {
		if err := os.MkdirAll(filepath.Dir(ledgerPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create ledger directory")
		}
	}

	// Create FSM state directory
	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

// openLedger opens the configured ledger, or returns nil when none is set.
func openLedger(cfg *config.Config) (*db.Repository, error) {
	if cfg.LedgerPath == "" {
		return nil, nil
	}
	repo, err := db.NewRepository(cfg.LedgerPath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// openMirror builds the S3 mirror, or returns nil when no bucket is set.
func openMirror(ctx context.Context, deps Deps, cfg *config.Config) (appfsm.Mirror, error) {
	if cfg.S3Bucket == "" || deps.NewMirror == nil {
		return nil, nil
	}
	m, err := deps.NewMirror(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "S3 client failed")
	}
	slog.Info("mirror_enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	return m, nil
}
