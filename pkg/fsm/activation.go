package fsm

import (
	"context"
	"log/slog"

	"github.com/Penacillin/knocker/pkg/credentials"
	"github.com/Penacillin/knocker/pkg/db"
	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/spf13/afero"
	"github.com/superfly/fsm"
)

// CredentialFunc supplies the account credentials once preconditions hold.
type CredentialFunc func() (credentials.Pair, error)

// Activator holds dependencies for the activation transitions
type Activator struct {
	factory drm.Factory
	fs      afero.Fs
	ledger  *db.Repository

	creds     credentials.Pair
	processor drm.Processor
	resp      ActivationResponse
	err       error
}

// NewActivator creates an Activator. ledger may be nil.
func NewActivator(factory drm.Factory, fs afero.Fs, ledger *db.Repository) *Activator {
	return &Activator{factory: factory, fs: fs, ledger: ledger}
}

// Register registers the activation FSM
func (a *Activator) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ActivationRequest, ActivationResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ActivationRequest, ActivationResponse](manager, "device-activation").
		Start(StateConstruct, a.handleConstruct).
		To(StateSignIn, a.handleSignIn).
		To(StateActivate, a.handleActivate).
		To(StateDone, a.handleDone).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Run checks the preconditions of req, acquires credentials and drives the
// activation to completion. An explicit device directory that already exists
// fails before credentials are requested or the processor is built.
func (a *Activator) Run(ctx context.Context, manager *fsm.Manager, req ActivationRequest, acquire CredentialFunc) (*ActivationResponse, error) {
	if req.ExplicitDir {
		if _, err := a.fs.Stat(req.DeviceDir); err == nil {
			slog.Warn("device_dir_exists", "device_dir", req.DeviceDir)
			return nil, errors.Preconditionf("Error : %s already exists", req.DeviceDir)
		}
	}

	creds, err := acquire()
	if err != nil {
		return nil, err
	}
	a.creds = creds
	req.Username = creds.Username

	start, _, err := a.Register(ctx, manager)
	if err != nil {
		return nil, err
	}

	defer func() {
		if a.processor != nil {
			a.processor.Close()
		}
	}()

	if err := execute(ctx, manager, start, &req, &ActivationResponse{}, func() error { return a.err }); err != nil {
		return nil, err
	}
	return &a.resp, nil
}

func (a *Activator) handleConstruct(ctx context.Context, req *fsm.Request[ActivationRequest, ActivationResponse]) (*fsm.Response[ActivationResponse], error) {
	slog.Info("fsm_state_construct", "device_dir", req.Msg.DeviceDir, "random_serial", req.Msg.RandomSerial)

	p, err := a.factory.NewActivator(ctx, drm.ActivationOptions{
		DeviceDir:        req.Msg.DeviceDir,
		ProcessorVersion: req.Msg.ProcessorVersion,
		RandomSerial:     req.Msg.RandomSerial,
	})
	if err != nil {
		return nil, abort(StateConstruct, &a.err, errors.Collaborator(err))
	}
	a.processor = p

	a.resp.Username = req.Msg.Username
	a.resp.DeviceDir = req.Msg.DeviceDir
	return fsm.NewResponse(&a.resp), nil
}

func (a *Activator) handleSignIn(ctx context.Context, req *fsm.Request[ActivationRequest, ActivationResponse]) (*fsm.Response[ActivationResponse], error) {
	slog.Info("fsm_state_sign_in", "username", a.creds.Username)

	if err := a.processor.SignIn(ctx, a.creds.Username, a.creds.Password); err != nil {
		return nil, abort(StateSignIn, &a.err, errors.Collaborator(err))
	}
	return fsm.NewResponse(&a.resp), nil
}

func (a *Activator) handleActivate(ctx context.Context, req *fsm.Request[ActivationRequest, ActivationResponse]) (*fsm.Response[ActivationResponse], error) {
	slog.Info("fsm_state_activate", "device_dir", req.Msg.DeviceDir)

	if err := a.processor.ActivateDevice(ctx); err != nil {
		return nil, abort(StateActivate, &a.err, errors.Collaborator(err))
	}
	return fsm.NewResponse(&a.resp), nil
}

func (a *Activator) handleDone(ctx context.Context, req *fsm.Request[ActivationRequest, ActivationResponse]) (*fsm.Response[ActivationResponse], error) {
	a.resp.Status = StatusActivated

	if a.ledger != nil {
		rec := &db.Activation{Username: a.resp.Username, DeviceDir: a.resp.DeviceDir}
		if err := a.ledger.RecordActivation(rec); err != nil {
			// Ledger failures never fail a completed activation.
			slog.Warn("activation_not_recorded", "username", a.resp.Username, "error", err)
		}
	}

	slog.Info("fsm_state_done", "username", a.resp.Username, "device_dir", a.resp.DeviceDir)
	return fsm.NewResponse(&a.resp), nil
}
