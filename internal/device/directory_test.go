package device

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the device schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "device-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE devices (
			unique_hardware_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			alias TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE device_configs (
			unique_hardware_id TEXT PRIMARY KEY REFERENCES devices(unique_hardware_id) ON DELETE CASCADE,
			automation_mode TEXT NOT NULL DEFAULT 'off',
			presence_mode TEXT NOT NULL DEFAULT 'any',
			sensor_off_delay INTEGER NOT NULL DEFAULT 0,
			timer_schedule TEXT,
			mqtt_settings TEXT,
			updated_at TEXT NOT NULL
		);

		INSERT INTO users VALUES ('usr-1', 'alice', NULL, 'x', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z');
		INSERT INTO users VALUES ('usr-2', 'bob', NULL, 'x', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z');
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return db
}

func TestUpsertDeviceAndFindOwner(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLiteDirectory(testDB(t))

	if err := dir.UpsertDevice(ctx, "hw-1", "usr-1", "New Device hw-1"); err != nil {
		t.Fatalf("UpsertDevice() error: %v", err)
	}

	owner, err := dir.FindOwner(ctx, "hw-1")
	if err != nil {
		t.Fatalf("FindOwner() error: %v", err)
	}
	if owner != "usr-1" {
		t.Errorf("FindOwner() = %q, want usr-1", owner)
	}

	// Second upsert must not change ownership.
	if err := dir.UpsertDevice(ctx, "hw-1", "usr-2", "stolen"); err != nil {
		t.Fatalf("second UpsertDevice() error: %v", err)
	}
	owner, err = dir.FindOwner(ctx, "hw-1")
	if err != nil {
		t.Fatalf("FindOwner() after re-upsert error: %v", err)
	}
	if owner != "usr-1" {
		t.Errorf("FindOwner() after re-upsert = %q, want usr-1", owner)
	}
}

func TestFindOwnerUnknownDevice(t *testing.T) {
	dir := NewSQLiteDirectory(testDB(t))

	if _, err := dir.FindOwner(context.Background(), "hw-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindOwner() error = %v, want ErrNotFound", err)
	}
}

func TestListDevicesScopedToOwner(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLiteDirectory(testDB(t))

	for _, hw := range []string{"hw-a", "hw-b"} {
		if err := dir.UpsertDevice(ctx, hw, "usr-1", hw); err != nil {
			t.Fatalf("UpsertDevice(%s) error: %v", hw, err)
		}
	}
	if err := dir.UpsertDevice(ctx, "hw-c", "usr-2", "hw-c"); err != nil {
		t.Fatalf("UpsertDevice(hw-c) error: %v", err)
	}

	ids, err := dir.ListDevices(ctx, "usr-1")
	if err != nil {
		t.Fatalf("ListDevices() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "hw-a" || ids[1] != "hw-b" {
		t.Errorf("ListDevices() = %v, want [hw-a hw-b]", ids)
	}
}

func TestUpdateAliasAndUnbind(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLiteDirectory(testDB(t))

	if err := dir.UpsertDevice(ctx, "hw-1", "usr-1", "old"); err != nil {
		t.Fatalf("UpsertDevice() error: %v", err)
	}

	// Wrong owner may not rename or unbind.
	if err := dir.UpdateAlias(ctx, "hw-1", "usr-2", "hijack"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAlias() wrong owner error = %v, want ErrNotFound", err)
	}
	if err := dir.Unbind(ctx, "hw-1", "usr-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unbind() wrong owner error = %v, want ErrNotFound", err)
	}

	if err := dir.UpdateAlias(ctx, "hw-1", "usr-1", "kitchen plug"); err != nil {
		t.Fatalf("UpdateAlias() error: %v", err)
	}

	devices, err := dir.List(ctx, "usr-1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(devices) != 1 || devices[0].Alias != "kitchen plug" {
		t.Errorf("List() = %+v, want one device aliased 'kitchen plug'", devices)
	}

	if err := dir.Unbind(ctx, "hw-1", "usr-1"); err != nil {
		t.Fatalf("Unbind() error: %v", err)
	}
	if _, err := dir.FindOwner(ctx, "hw-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindOwner() after unbind error = %v, want ErrNotFound", err)
	}
}

func TestConfigStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	dir := NewSQLiteDirectory(db)
	store := NewSQLiteConfigStore(db)

	if err := dir.UpsertDevice(ctx, "hw-1", "usr-1", "plug"); err != nil {
		t.Fatalf("UpsertDevice() error: %v", err)
	}

	// No snapshot yet: nil, nil.
	cfg, err := store.GetConfig(ctx, "hw-1")
	if err != nil {
		t.Fatalf("GetConfig() error: %v", err)
	}
	if cfg != nil {
		t.Errorf("GetConfig() = %+v, want nil before first save", cfg)
	}

	saved := &ConfigSnapshot{
		AutomationMode: "ml",
		PresenceMode:   "pir",
		SensorOffDelay: 300,
		TimerSchedule:  []byte(`[{"on":"07:00","off":"23:00"}]`),
	}
	if err := store.SaveConfig(ctx, "hw-1", saved); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	cfg, err = store.GetConfig(ctx, "hw-1")
	if err != nil {
		t.Fatalf("GetConfig() after save error: %v", err)
	}
	if cfg == nil {
		t.Fatal("GetConfig() = nil after save")
	}
	if cfg.AutomationMode != "ml" || cfg.PresenceMode != "pir" || cfg.SensorOffDelay != 300 {
		t.Errorf("GetConfig() = %+v, want saved values", cfg)
	}
	if string(cfg.TimerSchedule) != `[{"on":"07:00","off":"23:00"}]` {
		t.Errorf("TimerSchedule = %s, want saved schedule", cfg.TimerSchedule)
	}
}
