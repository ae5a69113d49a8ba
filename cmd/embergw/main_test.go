package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("EMBERGW_CONFIG")
	defer os.Setenv("EMBERGW_CONFIG", originalEnv)

	os.Setenv("EMBERGW_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingJWTSecret verifies run fails validation without a JWT secret.
func TestRun_MissingJWTSecret(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
database:
  path: "` + filepath.Join(tmpDir, "ember.db") + `"

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

security:
  jwt:
    secret: ""
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("EMBERGW_CONFIG")
	defer os.Setenv("EMBERGW_CONFIG", originalEnv)
	os.Setenv("EMBERGW_CONFIG", configPath)

	// Make sure the env override cannot mask the empty secret.
	originalSecret := os.Getenv("EMBER_JWT_SECRET")
	defer os.Setenv("EMBER_JWT_SECRET", originalSecret)
	os.Unsetenv("EMBER_JWT_SECRET")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when security.jwt.secret is empty")
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("EMBERGW_CONFIG")
	defer os.Setenv("EMBERGW_CONFIG", originalEnv)
	os.Unsetenv("EMBERGW_CONFIG")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("EMBERGW_CONFIG")
	defer os.Setenv("EMBERGW_CONFIG", originalEnv)
	os.Setenv("EMBERGW_CONFIG", "/tmp/custom.yaml")

	if got := getConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("getConfigPath() = %q, want /tmp/custom.yaml", got)
	}
}
