package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Penacillin/knocker/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides ledger operations
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the ledger at dbPath
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Create schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new fulfillment record
func (r *Repository) Create(f *Fulfillment) error {
	slog.Info("database_create_fulfillment", "request_path", f.RequestPath, "kind", f.Kind, "status", f.Status)

	query := `
		INSERT INTO fulfillments (request_path, kind, title, item_type, output_path, sha256, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		f.RequestPath, f.Kind, f.Title, f.ItemType,
		f.OutputPath, f.SHA256, f.Status, f.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "request_path", f.RequestPath, "error", err)
		return errors.Wrap(err, "failed to insert fulfillment")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	f.ID = id

	slog.Info("database_fulfillment_created", "fulfillment_id", f.ID, "status", f.Status)
	return nil
}

// Get retrieves a fulfillment by id. It returns nil, nil when absent. Only
// tests read single rows today; the commands use List.
func (r *Repository) Get(id int64) (*Fulfillment, error) {
	query := `
		SELECT id, request_path, kind, title, item_type, output_path, sha256,
		       status, error_message, created_at, updated_at
		FROM fulfillments WHERE id = ?
	`
	f, err := scanFulfillment(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "fulfillment_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query fulfillment")
	}
	return f, nil
}

// Update updates an existing fulfillment record
func (r *Repository) Update(f *Fulfillment) error {
	slog.Info("database_update_fulfillment", "fulfillment_id", f.ID, "status", f.Status)

	query := `
		UPDATE fulfillments
		SET title = ?, item_type = ?, output_path = ?, sha256 = ?, status = ?,
		    error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		f.Title, f.ItemType, f.OutputPath, f.SHA256, f.Status, f.ErrorMessage, f.ID)
	if err != nil {
		slog.Error("database_update_failed", "fulfillment_id", f.ID, "error", err)
		return errors.Wrap(err, "failed to update fulfillment")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("fulfillment not found: id=%d", f.ID)
	}
	return nil
}

// UpdateStatus updates only the status field
func (r *Repository) UpdateStatus(id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "fulfillment_id", id, "status", status)

	query := `UPDATE fulfillments SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_status_update_failed", "fulfillment_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// List retrieves all fulfillments, newest first
func (r *Repository) List() ([]*Fulfillment, error) {
	query := `
		SELECT id, request_path, kind, title, item_type, output_path, sha256,
		       status, error_message, created_at, updated_at
		FROM fulfillments ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list fulfillments")
	}
	defer rows.Close()

	var out []*Fulfillment
	for rows.Next() {
		f, err := scanFulfillment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "fulfillment_count", len(out))
	return out, nil
}

// RecordActivation stores a successful device activation
func (r *Repository) RecordActivation(a *Activation) error {
	slog.Info("database_record_activation", "username", a.Username, "device_dir", a.DeviceDir)

	result, err := r.db.Exec(`INSERT INTO activations (username, device_dir) VALUES (?, ?)`, a.Username, a.DeviceDir)
	if err != nil {
		slog.Error("database_insert_failed", "username", a.Username, "error", err)
		return errors.Wrap(err, "failed to insert activation")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	a.ID = id
	return nil
}

// ListActivations retrieves all activations, newest first
func (r *Repository) ListActivations() ([]*Activation, error) {
	rows, err := r.db.Query(`SELECT id, username, device_dir, created_at FROM activations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list activations")
	}
	defer rows.Close()

	var out []*Activation
	for rows.Next() {
		var a Activation
		if err := rows.Scan(&a.ID, &a.Username, &a.DeviceDir, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFulfillment(row rowScanner) (*Fulfillment, error) {
	var f Fulfillment
	var title, itemType, outputPath, sha, errorMessage sql.NullString

	err := row.Scan(
		&f.ID, &f.RequestPath, &f.Kind, &title, &itemType, &outputPath, &sha,
		&f.Status, &errorMessage, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	f.Title = title.String
	f.ItemType = itemType.String
	f.OutputPath = outputPath.String
	f.SHA256 = sha.String
	f.ErrorMessage = errorMessage.String
	return &f, nil
}
