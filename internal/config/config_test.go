package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Penacillin/knocker/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultProcessorCommand, cfg.ProcessorCommand)
	assert.Equal(t, DefaultS3Region, cfg.S3Region)
	assert.Empty(t, cfg.LedgerPath)
	assert.False(t, cfg.MaskPassword)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "knocker.yaml"),
		[]byte("ledger-path: ledger.db\nmask-password: true\n"), 0o644))
	t.Setenv("ADEPT_PROCESSOR_COMMAND", "helper --flag")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "ledger.db", cfg.LedgerPath)
	assert.True(t, cfg.MaskPassword)
	assert.Equal(t, []string{"helper", "--flag"}, cfg.ProcessorArgv())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{ProcessorCommand: "h", S3Region: "us-east-1"}, false},
		{"empty command", Config{ProcessorCommand: "  "}, true},
		{"bucket without region", Config{ProcessorCommand: "h", S3Bucket: "b"}, true},
		{"prefix without bucket", Config{ProcessorCommand: "h", S3Prefix: "p/"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActivation(t *testing.T) {
	a := &Activation{}
	assert.True(t, errors.Is(a.Validate(), errors.ErrUsage))

	a.Username = "alice@example.com"
	require.NoError(t, a.Validate())

	cwd := filepath.FromSlash("/home/alice")
	assert.Equal(t, filepath.Join(cwd, ".adept"), a.DeviceDir(cwd))

	a.OutputDir = "devices/kobo"
	assert.Equal(t, filepath.Join(cwd, "devices", "kobo"), a.DeviceDir(cwd))

	abs := filepath.Join(t.TempDir(), "x", "..", "dev")
	a.OutputDir = abs
	assert.Equal(t, filepath.Clean(abs), a.DeviceDir(cwd))
}

func TestFulfillment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		f       Fulfillment
		wantErr bool
	}{
		{"request only", Fulfillment{RequestFile: "book.acsm"}, false},
		{"export only", Fulfillment{ExportPrivateKey: true}, false},
		{"neither", Fulfillment{}, true},
		{"both", Fulfillment{RequestFile: "book.acsm", ExportPrivateKey: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.ErrUsage))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
