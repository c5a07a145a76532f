// Package fsm implements the device activation, content fulfillment and
// private key export workflows as finite state machines on top of the
// superfly/fsm library. Transitions never retry: every failure aborts the
// run and is reported to the caller unchanged.
package fsm

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/oklog/ulid/v2"
	"github.com/superfly/fsm"
)

const shutdownTimeout = 10 * time.Second

// OpenManager creates an FSM manager storing run state in stateDir. With an
// empty stateDir a temporary directory is used and removed by the returned
// close function.
func OpenManager(stateDir string) (*fsm.Manager, func(), error) {
	cleanup := func() {}
	if stateDir == "" {
		dir, err := os.MkdirTemp("", "knocker-fsm-")
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create FSM state directory")
		}
		stateDir = dir
		cleanup = func() { os.RemoveAll(dir) }
	} else if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create FSM state directory")
	}

	manager, err := fsm.New(fsm.Config{DBPath: stateDir})
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "FSM manager failed")
	}

	slog.Debug("fsm_manager_ready", "state_dir", stateDir)
	return manager, func() {
		manager.Shutdown(shutdownTimeout)
		cleanup()
	}, nil
}

// execute starts one run and blocks until it ends. A failure recorded by a
// handler takes precedence over the manager's own error.
func execute[R, W any](ctx context.Context, manager *fsm.Manager, start fsm.Start[R, W], req *R, resp *W, failure func() error) error {
	id := ulid.Make().String()

	version, err := start(ctx, id, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	slog.Debug("fsm_started", "run_id", id, "version", version)

	waitErr := manager.Wait(ctx, version)
	if err := failure(); err != nil {
		return err
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "FSM execution failed")
	}
	return nil
}

// abort records err as the run's failure and stops the machine.
func abort(state string, slot *error, err error) error {
	slog.Error("fsm_aborted", "state", state, "error", err)
	*slot = err
	return fsm.Abort(err)
}
