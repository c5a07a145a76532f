package fsm

import "github.com/Penacillin/knocker/pkg/artifact"

// ActivationRequest is the activation FSM input. Credentials are held by the
// Activator and never enter the persisted request.
type ActivationRequest struct {
	Username         string
	DeviceDir        string
	ExplicitDir      bool
	ProcessorVersion string
	RandomSerial     bool
}

// ActivationResponse is the activation FSM output
type ActivationResponse struct {
	Username  string
	DeviceDir string
	Status    string
}

// FulfillmentRequest is the fulfillment and key export FSM input
type FulfillmentRequest struct {
	Artifacts        artifact.Set
	RequestPath      string
	ExportPrivateKey bool
	OutputDir        string
	OutputFile       string
}

// FulfillmentResponse is the FSM output (accumulated across transitions)
type FulfillmentResponse struct {
	// From Open
	Username string

	// From Fulfill / Export
	Title      string
	StagedPath string

	// From Download
	ItemType string

	// From Commit / Export
	OutputPath string

	// From Publish
	SHA256   string
	S3Key    string
	LedgerID int64

	Status       string
	ErrorMessage string
}

// State names
const (
	StateConstruct = "construct"
	StateSignIn    = "sign_in"
	StateActivate  = "activate"
	StateDone      = "done"

	StateOpen     = "open"
	StateFulfill  = "fulfill"
	StateDownload = "download"
	StateCommit   = "commit"
	StateExport   = "export"
	StatePublish  = "publish"

	StateFailed = "failed"
)

// Status values reported in responses
const (
	StatusActivated = "activated"
	StatusReady     = "ready"
	StatusFailed    = "failed"
)
