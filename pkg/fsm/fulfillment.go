package fsm

import (
	"context"
	"io"
	"log/slog"

	"github.com/Penacillin/knocker/pkg/artifact"
	"github.com/Penacillin/knocker/pkg/db"
	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/Penacillin/knocker/pkg/output"
	"github.com/Penacillin/knocker/pkg/storage"
	"github.com/spf13/afero"
	"github.com/superfly/fsm"
)

// Mirror receives a copy of every produced artifact.
type Mirror interface {
	Upload(ctx context.Context, localPath string, body io.ReadSeeker, size int64, sha256sum string) (*storage.UploadResult, error)
}

// Fulfiller holds dependencies for the fulfillment and key export transitions
type Fulfiller struct {
	factory  drm.Factory
	resolver *artifact.Resolver
	placer   *output.Placer
	fs       afero.Fs
	ledger   *db.Repository
	mirror   Mirror

	files     drm.Artifacts
	processor drm.Processor
	item      drm.Item
	itemType  drm.ItemType
	record    *db.Fulfillment
	resp      FulfillmentResponse
	err       error
}

// NewFulfiller creates a Fulfiller. ledger and mirror may be nil.
func NewFulfiller(factory drm.Factory, fs afero.Fs, resolver *artifact.Resolver, ledger *db.Repository, mirror Mirror) *Fulfiller {
	return &Fulfiller{
		factory:  factory,
		resolver: resolver,
		placer:   output.NewPlacer(fs),
		fs:       fs,
		ledger:   ledger,
		mirror:   mirror,
	}
}

// RegisterFulfillment registers the content fulfillment FSM
func (f *Fulfiller) RegisterFulfillment(ctx context.Context, manager *fsm.Manager) (fsm.Start[FulfillmentRequest, FulfillmentResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FulfillmentRequest, FulfillmentResponse](manager, "acsm-fulfillment").
		Start(StateOpen, f.handleOpen).
		To(StateFulfill, f.handleFulfill).
		To(StateDownload, f.handleDownload).
		To(StateCommit, f.handleCommit).
		To(StatePublish, f.handlePublish).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// RegisterExport registers the private key export FSM
func (f *Fulfiller) RegisterExport(ctx context.Context, manager *fsm.Manager) (fsm.Start[FulfillmentRequest, FulfillmentResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FulfillmentRequest, FulfillmentResponse](manager, "key-export").
		Start(StateOpen, f.handleOpen).
		To(StateExport, f.handleExport).
		To(StatePublish, f.handlePublish).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Run validates req, resolves the configuration artifacts and drives either
// the fulfillment or the key export machine to completion. Nothing reaches
// the processor unless every artifact resolved and the request document
// exists.
func (f *Fulfiller) Run(ctx context.Context, manager *fsm.Manager, req FulfillmentRequest) (*FulfillmentResponse, error) {
	switch {
	case req.RequestPath != "" && req.ExportPrivateKey:
		return nil, errors.Usagef("-f|--acsm-file and -e|--export-private-key are mutually exclusive")
	case req.RequestPath == "" && !req.ExportPrivateKey:
		return nil, errors.Usagef("one of -f|--acsm-file or -e|--export-private-key is required")
	}

	files, err := f.resolver.Resolve(req.Artifacts)
	if err != nil {
		return nil, err
	}
	f.files = files

	if !req.ExportPrivateKey {
		if _, err := f.fs.Stat(req.RequestPath); err != nil {
			slog.Warn("request_missing", "request_path", req.RequestPath)
			return nil, errors.Preconditionf("Error : %s doesn't exists", req.RequestPath)
		}
	}

	register, kind := f.RegisterFulfillment, db.KindContent
	if req.ExportPrivateKey {
		register, kind = f.RegisterExport, db.KindKey
	}

	start, _, err := register(ctx, manager)
	if err != nil {
		return nil, err
	}

	if f.ledger != nil {
		f.record = &db.Fulfillment{RequestPath: req.RequestPath, Kind: kind, Status: db.StatusPending}
		if err := f.ledger.Create(f.record); err != nil {
			return nil, err
		}
		f.resp.LedgerID = f.record.ID
	}

	defer func() {
		if f.processor != nil {
			f.processor.Close()
		}
	}()

	runErr := execute(ctx, manager, start, &req, &FulfillmentResponse{}, func() error { return f.err })
	if runErr != nil {
		f.resp.Status = StatusFailed
		f.resp.ErrorMessage = runErr.Error()
		if f.record != nil {
			if err := f.ledger.UpdateStatus(f.record.ID, db.StatusFailed, runErr.Error()); err != nil {
				slog.Warn("fulfillment_failure_not_recorded", "fulfillment_id", f.record.ID, "error", err)
			}
		}
		return nil, runErr
	}
	return &f.resp, nil
}

func (f *Fulfiller) handleOpen(ctx context.Context, req *fsm.Request[FulfillmentRequest, FulfillmentResponse]) (*fsm.Response[FulfillmentResponse], error) {
	slog.Info("fsm_state_open", "device_file", f.files.DeviceFile)

	p, err := f.factory.Open(ctx, f.files)
	if err != nil {
		return nil, abort(StateOpen, &f.err, errors.Collaborator(err))
	}
	f.processor = p
	f.resp.Username = p.User().Username()
	return fsm.NewResponse(&f.resp), nil
}

func (f *Fulfiller) handleFulfill(ctx context.Context, req *fsm.Request[FulfillmentRequest, FulfillmentResponse]) (*fsm.Response[FulfillmentResponse], error) {
	slog.Info("fsm_state_fulfill", "request_path", req.Msg.RequestPath)

	item, err := f.processor.Fulfill(ctx, req.Msg.RequestPath)
	if err != nil {
		return nil, abort(StateFulfill, &f.err, errors.Collaborator(err))
	}
	f.item = item
	f.resp.Title = item.Metadata("title")

	target, err := f.placer.Target(req.Msg.OutputDir, output.ContentName(req.Msg.OutputFile, item))
	if err != nil {
		return nil, abort(StateFulfill, &f.err, err)
	}
	f.resp.StagedPath = target
	return fsm.NewResponse(&f.resp), nil
}

func (f *Fulfiller) handleDownload(ctx context.Context, req *fsm.Request[FulfillmentRequest, FulfillmentResponse]) (*fsm.Response[FulfillmentResponse], error) {
	slog.Info("fsm_state_download", "staged_path", f.resp.StagedPath)

	if f.record != nil {
		if err := f.ledger.UpdateStatus(f.record.ID, db.StatusDownloading, ""); err != nil {
			return nil, abort(StateDownload, &f.err, err)
		}
	}

	t, err := f.processor.Download(ctx, f.item, f.resp.StagedPath)
	if err != nil {
		return nil, abort(StateDownload, &f.err, errors.Collaborator(err))
	}
	f.itemType = t
	f.resp.ItemType = t.String()
	return fsm.NewResponse(&f.resp), nil
}

// handleCommit publishes the staged download under its extension-bearing
// name. An explicit output filename is final as written.
func (f *Fulfiller) handleCommit(ctx context.Context, req *fsm.Request[FulfillmentRequest, FulfillmentResponse]) (*fsm.Response[FulfillmentResponse], error) {
	if req.Msg.OutputFile != "" {
		slog.Info("fsm_state_commit", "output_path", f.resp.StagedPath, "rename", false)
		f.resp.OutputPath = f.resp.StagedPath
		return fsm.NewResponse(&f.resp), nil
	}

	final, err := f.placer.Commit(f.resp.StagedPath, f.itemType)
	if err != nil {
		return nil, abort(StateCommit, &f.err, err)
	}
	slog.Info("fsm_state_commit", "output_path", final, "rename", true)
	f.resp.OutputPath = final
	return fsm.NewResponse(&f.resp), nil
}

func (f *Fulfiller) handleExport(ctx context.Context, req *fsm.Request[FulfillmentRequest, FulfillmentResponse]) (*fsm.Response[FulfillmentResponse], error) {
	target, err := f.placer.Target(req.Msg.OutputDir, output.KeyName(req.Msg.OutputFile, f.resp.Username))
	if err != nil {
		return nil, abort(StateExport, &f.err, err)
	}
	slog.Info("fsm_state_export", "output_path", target)

	if err := f.processor.ExportPrivateLicenseKey(ctx, target); err != nil {
		return nil, abort(StateExport, &f.err, errors.Collaborator(err))
	}
	f.resp.OutputPath = target
	return fsm.NewResponse(&f.resp), nil
}

// handlePublish checksums the final artifact, mirrors it when a mirror is
// configured and marks the ledger record ready.
func (f *Fulfiller) handlePublish(ctx context.Context, req *fsm.Request[FulfillmentRequest, FulfillmentResponse]) (*fsm.Response[FulfillmentResponse], error) {
	sum, err := f.placer.Digest(f.resp.OutputPath)
	if err != nil {
		return nil, abort(StatePublish, &f.err, err)
	}
	f.resp.SHA256 = sum

	if f.mirror != nil {
		key, err := f.upload(ctx, sum)
		if err != nil {
			return nil, abort(StatePublish, &f.err, err)
		}
		f.resp.S3Key = key
	}

	if f.record != nil {
		f.record.Title = f.resp.Title
		f.record.ItemType = f.resp.ItemType
		f.record.OutputPath = f.resp.OutputPath
		f.record.SHA256 = sum
		f.record.Status = db.StatusReady
		if err := f.ledger.Update(f.record); err != nil {
			return nil, abort(StatePublish, &f.err, err)
		}
	}

	f.resp.Status = StatusReady
	slog.Info("fsm_state_publish", "output_path", f.resp.OutputPath, "sha256", sum, "s3_key", f.resp.S3Key)
	return fsm.NewResponse(&f.resp), nil
}

func (f *Fulfiller) upload(ctx context.Context, sum string) (string, error) {
	file, err := f.fs.Open(f.resp.OutputPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open artifact for upload")
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return "", errors.Wrap(err, "failed to stat artifact for upload")
	}

	res, err := f.mirror.Upload(ctx, f.resp.OutputPath, file, fi.Size(), sum)
	if err != nil {
		return "", err
	}
	return res.Key, nil
}
