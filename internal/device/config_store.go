package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ConfigStore persists per-device configuration snapshots.
type ConfigStore interface {
	// GetConfig returns the snapshot for a device, or (nil, nil) when no
	// configuration has been saved yet. Absence is not an error: a device
	// fresh out of pairing has no snapshot.
	GetConfig(ctx context.Context, hardwareID string) (*ConfigSnapshot, error)

	// SaveConfig inserts or replaces the snapshot for a device.
	SaveConfig(ctx context.Context, hardwareID string, cfg *ConfigSnapshot) error
}

// SQLiteConfigStore implements ConfigStore using SQLite.
type SQLiteConfigStore struct {
	db *sql.DB
}

// NewSQLiteConfigStore creates a SQLite-backed config store.
func NewSQLiteConfigStore(db *sql.DB) *SQLiteConfigStore {
	return &SQLiteConfigStore{db: db}
}

// GetConfig returns the snapshot for a device, or nil when none exists.
func (s *SQLiteConfigStore) GetConfig(ctx context.Context, hardwareID string) (*ConfigSnapshot, error) {
	var cfg ConfigSnapshot
	var schedule, mqttSettings sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT automation_mode, presence_mode, sensor_off_delay, timer_schedule, mqtt_settings
		 FROM device_configs WHERE unique_hardware_id = ?`, hardwareID,
	).Scan(&cfg.AutomationMode, &cfg.PresenceMode, &cfg.SensorOffDelay, &schedule, &mqttSettings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying device config: %w", err)
	}

	if schedule.Valid {
		cfg.TimerSchedule = []byte(schedule.String)
	}
	if mqttSettings.Valid {
		cfg.MQTTSettings = []byte(mqttSettings.String)
	}
	return &cfg, nil
}

// SaveConfig inserts or replaces the snapshot for a device.
func (s *SQLiteConfigStore) SaveConfig(ctx context.Context, hardwareID string, cfg *ConfigSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_configs
		   (unique_hardware_id, automation_mode, presence_mode, sensor_off_delay, timer_schedule, mqtt_settings, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unique_hardware_id) DO UPDATE SET
		   automation_mode = excluded.automation_mode,
		   presence_mode = excluded.presence_mode,
		   sensor_off_delay = excluded.sensor_off_delay,
		   timer_schedule = excluded.timer_schedule,
		   mqtt_settings = excluded.mqtt_settings,
		   updated_at = excluded.updated_at`,
		hardwareID, cfg.AutomationMode, cfg.PresenceMode, cfg.SensorOffDelay,
		rawOrNil(cfg.TimerSchedule), rawOrNil(cfg.MQTTSettings),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving device config: %w", err)
	}
	return nil
}

// rawOrNil converts empty raw JSON to a NULL-able SQL value.
func rawOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
