package db

// Schema defines the SQLite ledger of device activations and fulfilled
// requests.
const Schema = `
CREATE TABLE IF NOT EXISTS fulfillments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_path TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('content', 'key')),
    title TEXT,
    item_type TEXT,
    output_path TEXT,
    sha256 TEXT,
    status TEXT NOT NULL CHECK(status IN ('pending', 'downloading', 'ready', 'failed')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fulfillments_status ON fulfillments(status);
CREATE INDEX IF NOT EXISTS idx_fulfillments_created_at ON fulfillments(created_at);

CREATE TABLE IF NOT EXISTS activations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL,
    device_dir TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Status constants
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusReady       = "ready"
	StatusFailed      = "failed"
)

// Kind constants
const (
	KindContent = "content"
	KindKey     = "key"
)

// Fulfillment is one fulfilled request or key export
type Fulfillment struct {
	ID           int64
	RequestPath  string
	Kind         string
	Title        string
	ItemType     string
	OutputPath   string
	SHA256       string
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Activation is one successful device activation
type Activation struct {
	ID        int64
	Username  string
	DeviceDir string
	CreatedAt string
}
