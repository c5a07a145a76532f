package fsm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/Penacillin/knocker/pkg/artifact"
	"github.com/Penacillin/knocker/pkg/credentials"
	"github.com/Penacillin/knocker/pkg/db"
	"github.com/Penacillin/knocker/pkg/drm"
	"github.com/Penacillin/knocker/pkg/drm/drmtest"
	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/Penacillin/knocker/pkg/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superfly/fsm"
)

func newTestManager(t *testing.T) *fsm.Manager {
	t.Helper()
	manager, closeFn, err := OpenManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(closeFn)
	return manager
}

func newTestLedger(t *testing.T) *db.Repository {
	t.Helper()
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func staticCreds(username, password string) CredentialFunc {
	return func() (credentials.Pair, error) {
		return credentials.Pair{Username: username, Password: password}, nil
	}
}

func TestOpenManager_TemporaryStateDir(t *testing.T) {
	manager, closeFn, err := OpenManager("")
	require.NoError(t, err)
	require.NotNil(t, manager)
	closeFn()
}

func TestActivator_Success(t *testing.T) {
	fs := afero.NewMemMapFs()
	factory := drmtest.NewFactory(fs)
	ledger := newTestLedger(t)
	dir := "/home/alice/.adept"

	resp, err := NewActivator(factory, fs, ledger).Run(context.Background(), newTestManager(t), ActivationRequest{
		DeviceDir:        dir,
		ProcessorVersion: "12.0.4",
		RandomSerial:     true,
	}, staticCreds("alice@example.com", "pw123"))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", resp.Username)
	assert.Equal(t, dir, resp.DeviceDir)
	assert.Equal(t, StatusActivated, resp.Status)

	assert.Equal(t, []string{"new_activator", "signin", "activate"}, factory.Calls)
	assert.Equal(t, "pw123", factory.Password)
	assert.Equal(t, drm.ActivationOptions{DeviceDir: dir, ProcessorVersion: "12.0.4", RandomSerial: true}, factory.ActivationOpt)

	for _, name := range []string{"device.xml", "activation.xml", "devicesalt"} {
		ok, err := afero.Exists(fs, filepath.Join(dir, name))
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	activations, err := ledger.ListActivations()
	require.NoError(t, err)
	require.Len(t, activations, 1)
	assert.Equal(t, "alice@example.com", activations[0].Username)
}

func TestActivator_ExistingDirNeverSignsIn(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/devices/old", 0o755))
	factory := drmtest.NewFactory(fs)

	acquired := false
	_, err := NewActivator(factory, fs, nil).Run(context.Background(), newTestManager(t), ActivationRequest{
		DeviceDir:   "/devices/old",
		ExplicitDir: true,
	}, func() (credentials.Pair, error) {
		acquired = true
		return credentials.Pair{Username: "alice@example.com"}, nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPrecondition))
	assert.False(t, acquired, "credentials must not be requested")
	assert.Empty(t, factory.Calls)
}

func TestActivator_DefaultDirMayExist(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work/.adept", 0o755))
	factory := drmtest.NewFactory(fs)

	_, err := NewActivator(factory, fs, nil).Run(context.Background(), newTestManager(t), ActivationRequest{
		DeviceDir: "/work/.adept",
	}, staticCreds("alice@example.com", "pw123"))
	require.NoError(t, err)
	assert.True(t, factory.Called("activate"))
}

func TestActivator_Failures(t *testing.T) {
	tests := []struct {
		name      string
		failAt    string
		wantCalls []string
	}{
		{"construction", "new_activator", []string{"new_activator"}},
		{"sign in rejected", "signin", []string{"new_activator", "signin"}},
		{"activation rejected", "activate", []string{"new_activator", "signin", "activate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			factory := drmtest.NewFactory(fs)
			factory.Fail = map[string]error{tt.failAt: stderrors.New("E_AUTH_FAILED CUS05051")}

			_, err := NewActivator(factory, fs, nil).Run(context.Background(), newTestManager(t), ActivationRequest{
				DeviceDir: "/work/.adept",
			}, staticCreds("alice@example.com", "bad"))

			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCollaborator))
			assert.Equal(t, "E_AUTH_FAILED CUS05051", err.Error())
			assert.Equal(t, tt.wantCalls, factory.Calls)
		})
	}
}

func TestActivator_CredentialFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	factory := drmtest.NewFactory(fs)

	_, err := NewActivator(factory, fs, nil).Run(context.Background(), newTestManager(t), ActivationRequest{
		DeviceDir: "/work/.adept",
	}, func() (credentials.Pair, error) {
		return credentials.Pair{}, credentials.ErrPasswordInterrupted
	})

	assert.ErrorIs(t, err, credentials.ErrPasswordInterrupted)
	assert.Empty(t, factory.Calls)
}

// fulfillmentFs returns a filesystem holding activated device files and a
// request document in the working directory.
func fulfillmentFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, name := range []string{".adept/device.xml", ".adept/activation.xml", ".adept/devicesalt", "book.acsm"} {
		require.NoError(t, afero.WriteFile(fs, name, []byte("x"), 0o600))
	}
	return fs
}

func runFulfillment(t *testing.T, fs afero.Fs, factory *drmtest.Factory, req FulfillmentRequest) (*FulfillmentResponse, error) {
	t.Helper()
	f := NewFulfiller(factory, fs, artifact.NewResolver(fs), nil, nil)
	return f.Run(context.Background(), newTestManager(t), req)
}

func TestFulfiller_OptionConflictsBeforeResolution(t *testing.T) {
	tests := []struct {
		name string
		req  FulfillmentRequest
	}{
		{"both request and export", FulfillmentRequest{RequestPath: "book.acsm", ExportPrivateKey: true}},
		{"neither request nor export", FulfillmentRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Empty filesystem: resolution would fail with a different error.
			fs := afero.NewMemMapFs()
			factory := drmtest.NewFactory(fs)

			_, err := runFulfillment(t, fs, factory, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrUsage))
			assert.False(t, errors.Is(err, errors.ErrArtifactNotFound))
			assert.Empty(t, factory.Calls)
		})
	}
}

func TestFulfiller_MissingArtifactsReportedTogether(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "book.acsm", []byte("x"), 0o600))
	require.NoError(t, afero.WriteFile(fs, "adobe-digital-editions/activation.xml", []byte("x"), 0o600))
	factory := drmtest.NewFactory(fs)

	_, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "book.acsm"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrArtifactNotFound))

	var nf *artifact.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []string{"device.xml", "devicesalt"}, nf.Missing)
	assert.Empty(t, factory.Calls)
}

func TestFulfiller_MissingRequestDocument(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)

	_, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "missing.acsm"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPrecondition))
	assert.Equal(t, "Error : missing.acsm doesn't exists", err.Error())
	assert.Empty(t, factory.Calls)
}

func TestFulfiller_ExtensionFollowsClassification(t *testing.T) {
	tests := []struct {
		name     string
		itemType drm.ItemType
		want     string
	}{
		{"pdf", drm.PDF, "Report.pdf"},
		{"epub", drm.EPUB, "Report.epub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := fulfillmentFs(t)
			factory := drmtest.NewFactory(fs)
			factory.Title = "Report"
			factory.Type = tt.itemType

			resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "book.acsm"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.OutputPath)
			assert.Equal(t, "Report", resp.StagedPath)

			ok, _ := afero.Exists(fs, tt.want)
			assert.True(t, ok, "final file present")
			ok, _ = afero.Exists(fs, "Report")
			assert.False(t, ok, "staged file renamed away")
		})
	}
}

func TestFulfiller_MyBookScenario(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	factory.Title = "MyBook"
	factory.Type = drm.EPUB

	resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "book.acsm"})
	require.NoError(t, err)

	assert.Equal(t, "MyBook.epub", resp.OutputPath)
	assert.Equal(t, StatusReady, resp.Status)
	assert.Equal(t, []string{"open", "fulfill", "download"}, factory.Calls)
	assert.Equal(t, drm.Artifacts{
		DeviceFile:     ".adept/device.xml",
		ActivationFile: ".adept/activation.xml",
		DeviceKeyFile:  ".adept/devicesalt",
	}, factory.OpenedWith)

	data, err := afero.ReadFile(fs, "MyBook.epub")
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestFulfiller_ExplicitOutputFileIsNotRenamed(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	factory.Title = "MyBook"
	factory.Type = drm.PDF

	resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{
		RequestPath: "book.acsm",
		OutputDir:   "library/new",
		OutputFile:  "custom",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("library", "new", "custom"), resp.OutputPath)
	ok, _ := afero.Exists(fs, resp.OutputPath)
	assert.True(t, ok)
	ok, _ = afero.Exists(fs, resp.OutputPath+".pdf")
	assert.False(t, ok)
}

func TestFulfiller_ExistingOutputDirIsKept(t *testing.T) {
	fs := fulfillmentFs(t)
	require.NoError(t, afero.WriteFile(fs, "library/other.epub", []byte("keep"), 0o644))
	factory := drmtest.NewFactory(fs)

	resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "book.acsm", OutputDir: "library"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("library", "output.epub"), resp.OutputPath)

	data, err := afero.ReadFile(fs, "library/other.epub")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestFulfiller_HostileTitleStaysInOutputDir(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	factory.Title = "../../etc/passwd"

	resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "book.acsm", OutputDir: "library"})
	require.NoError(t, err)
	assert.Equal(t, "library", filepath.Dir(resp.OutputPath))
}

func TestFulfiller_ExportKey(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)

	resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{ExportPrivateKey: true, OutputDir: "keys"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("keys", "Adobe_PrivateLicenseKey--reader@example.com.der"), resp.OutputPath)
	assert.Equal(t, []string{"open", "export"}, factory.Calls)

	data, err := afero.ReadFile(fs, resp.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "DER", string(data))
}

func TestFulfiller_ExportKeyHonoursOutputFile(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)

	resp, err := runFulfillment(t, fs, factory, FulfillmentRequest{ExportPrivateKey: true, OutputFile: "mine.der"})
	require.NoError(t, err)
	assert.Equal(t, "mine.der", resp.OutputPath)
}

func TestFulfiller_CollaboratorFailure(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	factory.Fail = map[string]error{"fulfill": stderrors.New("E_GOOGLE_DEVICE_LIMIT_REACHED")}

	_, err := runFulfillment(t, fs, factory, FulfillmentRequest{RequestPath: "book.acsm"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCollaborator))
	assert.Equal(t, "E_GOOGLE_DEVICE_LIMIT_REACHED", err.Error())
	assert.False(t, factory.Called("download"))
}

type recordingMirror struct {
	path string
	body string
	sum  string
	err  error
}

func (m *recordingMirror) Upload(ctx context.Context, localPath string, body io.ReadSeeker, size int64, sha256sum string) (*storage.UploadResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.path, m.body, m.sum = localPath, string(data), sha256sum
	return &storage.UploadResult{Bucket: "books", Key: storage.ObjectKey("mirror", localPath), Size: size}, nil
}

func TestFulfiller_LedgerAndMirror(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	factory.Title = "MyBook"
	ledger := newTestLedger(t)
	mirror := &recordingMirror{}

	f := NewFulfiller(factory, fs, artifact.NewResolver(fs), ledger, mirror)
	resp, err := f.Run(context.Background(), newTestManager(t), FulfillmentRequest{RequestPath: "book.acsm"})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("content"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, resp.SHA256)
	assert.Equal(t, "mirror/MyBook.epub", resp.S3Key)
	assert.Equal(t, "content", mirror.body)
	assert.Equal(t, want, mirror.sum)

	rec, err := ledger.Get(resp.LedgerID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, db.StatusReady, rec.Status)
	assert.Equal(t, db.KindContent, rec.Kind)
	assert.Equal(t, "MyBook", rec.Title)
	assert.Equal(t, "epub", rec.ItemType)
	assert.Equal(t, "MyBook.epub", rec.OutputPath)
	assert.Equal(t, want, rec.SHA256)
}

func TestFulfiller_FailureRecordedInLedger(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	factory.Fail = map[string]error{"download": stderrors.New("connection reset")}
	ledger := newTestLedger(t)

	f := NewFulfiller(factory, fs, artifact.NewResolver(fs), ledger, nil)
	_, err := f.Run(context.Background(), newTestManager(t), FulfillmentRequest{RequestPath: "book.acsm"})
	require.Error(t, err)

	rows, err := ledger.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, db.StatusFailed, rows[0].Status)
	assert.Equal(t, "connection reset", rows[0].ErrorMessage)
}

func TestFulfiller_MirrorFailureFailsRun(t *testing.T) {
	fs := fulfillmentFs(t)
	factory := drmtest.NewFactory(fs)
	mirror := &recordingMirror{err: stderrors.New("access denied")}

	f := NewFulfiller(factory, fs, artifact.NewResolver(fs), nil, mirror)
	_, err := f.Run(context.Background(), newTestManager(t), FulfillmentRequest{RequestPath: "book.acsm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	ok, _ := afero.Exists(fs, "output.epub")
	assert.True(t, ok, "local artifact is kept")
}
