package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Directory defines device directory persistence operations. The SQLite
// implementation is the only production one; tests substitute mocks.
type Directory interface {
	// UpsertDevice creates a directory entry for hardwareID bound to
	// ownerID, or leaves an existing entry untouched.
	UpsertDevice(ctx context.Context, hardwareID, ownerID, defaultAlias string) error

	// FindOwner resolves the owning user of a hardware ID.
	// Returns ErrNotFound for unbound devices.
	FindOwner(ctx context.Context, hardwareID string) (string, error)

	// ListDevices returns the hardware IDs owned by a user.
	ListDevices(ctx context.Context, ownerID string) ([]string, error)

	// List returns full directory entries for a user, for the REST layer.
	List(ctx context.Context, ownerID string) ([]Device, error)

	// UpdateAlias renames a device, scoped to its owner.
	// Returns ErrNotFound when the device is absent or owned by someone else.
	UpdateAlias(ctx context.Context, hardwareID, ownerID, alias string) error

	// Unbind removes a device from an account.
	// Returns ErrNotFound when the device is absent or owned by someone else.
	Unbind(ctx context.Context, hardwareID, ownerID string) error
}

// SQLiteDirectory implements Directory using SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory creates a SQLite-backed device directory.
func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// UpsertDevice creates the directory entry if absent. Existing entries are
// left untouched: alias and ownership survive re-pairing.
func (d *SQLiteDirectory) UpsertDevice(ctx context.Context, hardwareID, ownerID, defaultAlias string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO devices (unique_hardware_id, user_id, alias, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(unique_hardware_id) DO NOTHING`,
		hardwareID, ownerID, defaultAlias,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// FindOwner resolves the owning user of a hardware ID.
func (d *SQLiteDirectory) FindOwner(ctx context.Context, hardwareID string) (string, error) {
	var ownerID string
	err := d.db.QueryRowContext(ctx,
		"SELECT user_id FROM devices WHERE unique_hardware_id = ?", hardwareID,
	).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("querying device owner: %w", err)
	}
	return ownerID, nil
}

// ListDevices returns the hardware IDs owned by a user.
func (d *SQLiteDirectory) ListDevices(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT unique_hardware_id FROM devices WHERE user_id = ? ORDER BY unique_hardware_id",
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return ids, nil
}

// List returns full directory entries for a user.
func (d *SQLiteDirectory) List(ctx context.Context, ownerID string) ([]Device, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT unique_hardware_id, user_id, alias, created_at
		 FROM devices WHERE user_id = ? ORDER BY unique_hardware_id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var dev Device
		var alias sql.NullString
		var createdAt string
		if err := rows.Scan(&dev.HardwareID, &dev.UserID, &alias, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		if alias.Valid {
			dev.Alias = alias.String
		}
		dev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// UpdateAlias renames a device, scoped to its owner.
func (d *SQLiteDirectory) UpdateAlias(ctx context.Context, hardwareID, ownerID, alias string) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE devices SET alias = ? WHERE unique_hardware_id = ? AND user_id = ?",
		alias, hardwareID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("updating alias: %w", err)
	}
	return requireRow(res)
}

// Unbind removes a device from an account. The next device_reconnect from
// this hardware ID will receive device_unbound.
func (d *SQLiteDirectory) Unbind(ctx context.Context, hardwareID, ownerID string) error {
	res, err := d.db.ExecContext(ctx,
		"DELETE FROM devices WHERE unique_hardware_id = ? AND user_id = ?",
		hardwareID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("unbinding device: %w", err)
	}
	return requireRow(res)
}

// requireRow converts a zero-row write into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
