package binding

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the pairing schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "binding-test-*.db")
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

		CREATE TABLE binding_tokens (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			is_used INTEGER NOT NULL DEFAULT 0,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE devices (
			unique_hardware_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			alias TEXT,
			created_at TEXT NOT NULL
		);

		INSERT INTO users VALUES ('usr-1', 'alice', NULL, 'x', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z');
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return db
}

func TestConsumeTokenOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t))

	tok, err := store.Issue(ctx, "usr-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	userID, err := store.ConsumeToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("ConsumeToken() error: %v", err)
	}
	if userID != "usr-1" {
		t.Errorf("ConsumeToken() userID = %q, want usr-1", userID)
	}

	// Replay must fail.
	if _, err := store.ConsumeToken(ctx, tok.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("replayed ConsumeToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestConsumeTokenRejectsExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t))

	tok, err := store.Issue(ctx, "usr-1", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := store.ConsumeToken(ctx, tok.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired ConsumeToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestConsumeTokenRejectsUnknown(t *testing.T) {
	store := NewStore(testDB(t))

	if _, err := store.ConsumeToken(context.Background(), "no-such-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("unknown ConsumeToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestBindDeviceCreatesDeviceAndConsumesToken(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewStore(db)

	tok, err := store.Issue(ctx, "usr-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	userID, err := store.BindDevice(ctx, tok.Token, "hw-0001", "New Device hw-00")
	if err != nil {
		t.Fatalf("BindDevice() error: %v", err)
	}
	if userID != "usr-1" {
		t.Errorf("BindDevice() userID = %q, want usr-1", userID)
	}

	var owner, alias string
	if err := db.QueryRow(
		"SELECT user_id, alias FROM devices WHERE unique_hardware_id = 'hw-0001'",
	).Scan(&owner, &alias); err != nil {
		t.Fatalf("device row not created: %v", err)
	}
	if owner != "usr-1" || alias != "New Device hw-00" {
		t.Errorf("device row = (%q, %q), want (usr-1, New Device hw-00)", owner, alias)
	}

	// Same token can never bind a second session.
	if _, err := store.BindDevice(ctx, tok.Token, "hw-0002", "New Device hw-00"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("replayed BindDevice() error = %v, want ErrTokenInvalid", err)
	}
}

func TestBindDeviceIdempotentForExistingDevice(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewStore(db)

	tok1, _ := store.Issue(ctx, "usr-1", 5*time.Minute)
	if _, err := store.BindDevice(ctx, tok1.Token, "hw-0001", "first"); err != nil {
		t.Fatalf("first BindDevice() error: %v", err)
	}

	tok2, _ := store.Issue(ctx, "usr-1", 5*time.Minute)
	if _, err := store.BindDevice(ctx, tok2.Token, "hw-0001", "second"); err != nil {
		t.Fatalf("second BindDevice() error: %v", err)
	}

	var alias string
	if err := db.QueryRow(
		"SELECT alias FROM devices WHERE unique_hardware_id = 'hw-0001'",
	).Scan(&alias); err != nil {
		t.Fatalf("querying device: %v", err)
	}
	if alias != "first" {
		t.Errorf("alias = %q, want first (upsert must be a no-op for existing devices)", alias)
	}
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t))

	expired, _ := store.Issue(ctx, "usr-1", -time.Minute)
	live, _ := store.Issue(ctx, "usr-1", 5*time.Minute)

	n, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}

	if _, err := store.ConsumeToken(ctx, live.Token); err != nil {
		t.Errorf("live token was deleted: %v", err)
	}
	if _, err := store.ConsumeToken(ctx, expired.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired token still consumable after cleanup")
	}
}
