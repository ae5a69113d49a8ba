package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandRecord is a single entry in the command audit trail.
type CommandRecord struct {
	ID         string    `json:"id"`
	HardwareID string    `json:"hardware_id"`
	UserID     string    `json:"user_id"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditRepository defines the interface for command audit operations.
type AuditRepository interface {
	Append(ctx context.Context, rec *CommandRecord) error
	ListByDevice(ctx context.Context, hardwareID string, limit int) ([]CommandRecord, error)
}

// Audit list bounds.
const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// SQLiteAuditRepository persists command audit records in SQLite.
type SQLiteAuditRepository struct {
	db *sql.DB
}

// NewSQLiteAuditRepository creates a new command audit repository.
func NewSQLiteAuditRepository(db *sql.DB) *SQLiteAuditRepository {
	return &SQLiteAuditRepository{db: db}
}

// Append inserts a new audit record. ID and CreatedAt are generated if empty.
func (r *SQLiteAuditRepository) Append(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = "cmd-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_audit (id, unique_hardware_id, user_id, state, ts)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.HardwareID, rec.UserID, rec.State, rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit record: %w", err)
	}

	return nil
}

// ListByDevice returns the most recent audit records for a device,
// newest first.
func (r *SQLiteAuditRepository) ListByDevice(ctx context.Context, hardwareID string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, unique_hardware_id, user_id, state, ts
		FROM command_audit
		WHERE unique_hardware_id = ?
		ORDER BY ts DESC
		LIMIT ?`,
		hardwareID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command audit: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.HardwareID, &rec.UserID, &rec.State, &ts); err != nil {
			return nil, fmt.Errorf("scanning command audit record: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit records: %w", err)
	}

	return records, nil
}
