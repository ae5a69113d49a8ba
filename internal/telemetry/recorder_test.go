package telemetry

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the audit schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "telemetry-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE command_audit (
			id TEXT PRIMARY KEY,
			unique_hardware_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			state TEXT NOT NULL,
			ts TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying test schema: %v", err)
	}

	return db
}

// fakeSensorWriter records calls so tests can assert fan-out.
type fakeSensorWriter struct {
	tempHumi int
	presence []string
	sound    int
}

func (f *fakeSensorWriter) WriteTempHumi(_ string, _, _ float64) { f.tempHumi++ }
func (f *fakeSensorWriter) WritePresence(_, sensor string, _ bool) {
	f.presence = append(f.presence, sensor)
}
func (f *fakeSensorWriter) WriteSoundEvent(_ string) { f.sound++ }

func TestRecordCommandAppendsAuditRecord(t *testing.T) {
	db := testDB(t)
	rec := NewRecorder(nil, NewSQLiteAuditRepository(db))
	ctx := context.Background()

	if err := rec.RecordCommand(ctx, "esp32-a1", "usr-1", "on"); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := rec.RecordCommand(ctx, "esp32-a1", "usr-1", "off"); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	records, err := NewSQLiteAuditRepository(db).ListByDevice(ctx, "esp32-a1", 0)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.UserID != "usr-1" || r.HardwareID != "esp32-a1" {
			t.Errorf("unexpected record %+v", r)
		}
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Errorf("record missing generated fields: %+v", r)
		}
	}
}

func TestListByDeviceScopesAndLimits(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteAuditRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Append(ctx, &CommandRecord{HardwareID: "dev-a", UserID: "usr-1", State: "on"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := repo.Append(ctx, &CommandRecord{HardwareID: "dev-b", UserID: "usr-2", State: "off"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := repo.ListByDevice(ctx, "dev-a", 3)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for _, r := range records {
		if r.HardwareID != "dev-a" {
			t.Errorf("record from wrong device: %+v", r)
		}
	}
}

func TestRecorderSensorFanOut(t *testing.T) {
	fake := &fakeSensorWriter{}
	rec := NewRecorder(fake, NewSQLiteAuditRepository(testDB(t)))

	rec.RecordTempHumi("dev-a", 21.5, 40)
	rec.RecordPresence("dev-a", "pir", true)
	rec.RecordPresence("dev-a", "radar", false)
	rec.RecordSoundEvent("dev-a")

	if fake.tempHumi != 1 || fake.sound != 1 {
		t.Errorf("unexpected write counts: %+v", fake)
	}
	if len(fake.presence) != 2 || fake.presence[0] != "pir" || fake.presence[1] != "radar" {
		t.Errorf("unexpected presence writes: %v", fake.presence)
	}
}

func TestRecorderWithoutSensorWriterDropsReadings(t *testing.T) {
	rec := NewRecorder(nil, NewSQLiteAuditRepository(testDB(t)))

	// Must not panic with no sensor backend configured.
	rec.RecordTempHumi("dev-a", 21.5, 40)
	rec.RecordPresence("dev-a", "pir", true)
	rec.RecordSoundEvent("dev-a")
}
