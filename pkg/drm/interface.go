// Package drm defines the contract of the external DRM processor that
// performs the ADEPT handshake, document parsing and downloads on behalf of
// the activation and fulfillment workflows.
package drm

import "context"

// ItemType is the content classification reported after a download.
type ItemType int

const (
	EPUB ItemType = iota
	PDF
)

func (t ItemType) String() string {
	if t == PDF {
		return "pdf"
	}
	return "epub"
}

// ParseItemType maps a classification name to an ItemType. Anything that is
// not "pdf" is treated as EPUB.
func ParseItemType(s string) ItemType {
	if s == "pdf" || s == "PDF" {
		return PDF
	}
	return EPUB
}

// Item is the processor's handle to fulfilled content.
type Item interface {
	// Metadata returns the value of key (e.g. "title"), or "" if absent.
	Metadata(key string) string
}

// User is the signed-in account of a processor session.
type User interface {
	Username() string
}

// ActivationOptions configures a processor that creates new device files.
type ActivationOptions struct {
	// DeviceDir receives device.xml, activation.xml and devicesalt.
	DeviceDir string
	// ProcessorVersion overrides the RMSDK version announced to the server.
	ProcessorVersion string
	RandomSerial     bool
}

// Artifacts are the resolved configuration files of an activated device.
type Artifacts struct {
	DeviceFile     string
	ActivationFile string
	DeviceKeyFile  string
}

// Processor is a constructed DRM processor session.
type Processor interface {
	// SignIn authenticates against the credential issuing service.
	SignIn(ctx context.Context, username, password string) error

	// ActivateDevice registers the device with the signed-in account.
	ActivateDevice(ctx context.Context) error

	// Fulfill resolves a request document into an Item.
	Fulfill(ctx context.Context, requestPath string) (Item, error)

	// Download writes the item's content to path and reports its type.
	Download(ctx context.Context, item Item, path string) (ItemType, error)

	// ExportPrivateLicenseKey writes the device private key (DER) to path.
	ExportPrivateLicenseKey(ctx context.Context, path string) error

	// User returns the account the session belongs to.
	User() User

	// Close releases resources held by the session.
	Close() error
}

// Factory constructs processors.
type Factory interface {
	// NewActivator returns a processor that will create device files in
	// opts.DeviceDir.
	NewActivator(ctx context.Context, opts ActivationOptions) (Processor, error)

	// Open returns a processor for an already activated device.
	Open(ctx context.Context, files Artifacts) (Processor, error)

	// Version reports the processor implementation version.
	Version(ctx context.Context) (string, error)
}
