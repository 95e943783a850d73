package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  host: db\n  name: adms\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.MinIO.Bucket != "attendance-photos" {
		t.Errorf("MinIO.Bucket = %q, want attendance-photos", cfg.MinIO.Bucket)
	}
	if cfg.ADMS.TransFlag != "1111000000" {
		t.Errorf("ADMS.TransFlag = %q", cfg.ADMS.TransFlag)
	}
	if got, want := cfg.Database.DSN(), "postgres://:@db:5432/adms?sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("ADMS_SERVER_PORT", "9100")
	t.Setenv("ADMS_API_KEY_HASHES", "hash-a, hash-b,,")
	t.Setenv("ADMS_TIMEZONE", "Asia/Jakarta")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if len(cfg.Server.APIKeyHashes) != 2 || cfg.Server.APIKeyHashes[1] != "hash-b" {
		t.Errorf("APIKeyHashes = %v", cfg.Server.APIKeyHashes)
	}
	if cfg.ADMS.TimeZone != "Asia/Jakarta" {
		t.Errorf("ADMS.TimeZone = %q", cfg.ADMS.TimeZone)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	if loc := (ADMSConfig{TimeZone: "Not/AZone"}).Location(); loc != time.UTC {
		t.Errorf("Location() = %v, want UTC", loc)
	}
}
