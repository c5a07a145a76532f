package config

import (
	"path/filepath"

	"github.com/Penacillin/knocker/pkg/artifact"
	"github.com/Penacillin/knocker/pkg/errors"
)

// DefaultDeviceDir is where activation writes device files when no output
// directory is given, relative to the working directory.
const DefaultDeviceDir = ".adept"

// Activation is the validated input of one device activation.
type Activation struct {
	Username string
	// Password is nil when it must be prompted for.
	Password         *string
	OutputDir        string
	ProcessorVersion string
	RandomSerial     bool
	Verbosity        int
}

// Validate rejects a missing username.
func (a *Activation) Validate() error {
	if a.Username == "" {
		return errors.Usagef("-u|--username is required")
	}
	return nil
}

// DeviceDir returns the absolute activation directory: OutputDir, or
// DefaultDeviceDir, resolved against cwd when relative.
func (a *Activation) DeviceDir(cwd string) string {
	dir := a.OutputDir
	if dir == "" {
		dir = DefaultDeviceDir
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(cwd, dir)
}

// Fulfillment is the validated input of one fulfillment or key export.
type Fulfillment struct {
	Artifacts        artifact.Set
	OutputDir        string
	OutputFile       string
	RequestFile      string
	ExportPrivateKey bool
	Verbosity        int
}

// Validate enforces the option-level rules: exactly one of RequestFile and
// ExportPrivateKey.
func (f *Fulfillment) Validate() error {
	if f.RequestFile == "" && !f.ExportPrivateKey {
		return errors.Usagef("one of -f|--acsm-file or -e|--export-private-key is required")
	}
	if f.RequestFile != "" && f.ExportPrivateKey {
		return errors.Usagef("-f|--acsm-file and -e|--export-private-key are mutually exclusive")
	}
	return nil
}
