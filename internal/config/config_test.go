package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_HasSaneBounds(t *testing.T) {
	cfg := Default()
	if cfg.Tools.MaxOutputBytes <= 0 {
		t.Errorf("MaxOutputBytes should be positive")
	}
	if cfg.Agents.MaxSupervisorRounds != 2 {
		t.Errorf("MaxSupervisorRounds = %d, want 2", cfg.Agents.MaxSupervisorRounds)
	}
}

func TestLoad_MissingFileFallsBackToDefaultsPlusEnv(t *testing.T) {
	t.Setenv("ADS_TELEGRAM_TOKEN", "tok-123")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok-123" {
		t.Errorf("Telegram.Token = %q, want tok-123", cfg.Telegram.Token)
	}
	if !cfg.Telegram.Enabled {
		t.Errorf("Telegram.Enabled should be auto-set true when token present")
	}
}

func TestLoad_FileOverlaidByEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(`{"gateway":{"port":9999}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADS_PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 7000 {
		t.Errorf("Gateway.Port = %d, want 7000 (env override)", cfg.Gateway.Port)
	}
}

func TestFlexibleStringSlice_AcceptsStringsAndNumbers(t *testing.T) {
	var f FlexibleStringSlice
	if err := f.UnmarshalJSON([]byte(`["a","b"]`)); err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != "a" {
		t.Errorf("got %v", f)
	}

	var g FlexibleStringSlice
	if err := g.UnmarshalJSON([]byte(`[1,2,3]`)); err != nil {
		t.Fatal(err)
	}
	if len(g) != 3 || g[0] != "1" {
		t.Errorf("got %v", g)
	}
}

func TestSecretsNeverLoadedFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	// session pepper has json:"-" so it must not round-trip through the file.
	if err := os.WriteFile(path, []byte(`{"gateway":{"session_pepper":"leaked"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.SessionPepper == "leaked" {
		t.Errorf("session pepper must not be settable from config.json5")
	}
}
