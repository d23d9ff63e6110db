package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "laundr.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	cfgPath := writeConfig(t, `
reader: "ACR122"
mode: legit
files:
  card_dir: "cards"
  key_file: "extra-keys.txt"
  ledger: "out/transactions.csv"
session:
  poll_ms: 100
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	base := filepath.Dir(cfgPath)
	if cfg.Files.CardDir != filepath.Join(base, "cards") {
		t.Fatalf("card_dir = %q, want resolved against the config dir", cfg.Files.CardDir)
	}
	if cfg.Files.KeyFile != filepath.Join(base, "extra-keys.txt") {
		t.Fatalf("key_file = %q", cfg.Files.KeyFile)
	}
	if cfg.Files.Ledger != filepath.Join(base, "out", "transactions.csv") {
		t.Fatalf("ledger = %q", cfg.Files.Ledger)
	}
	if cfg.Reader != "ACR122" || cfg.Mode != "legit" {
		t.Fatalf("reader/mode = %q/%q", cfg.Reader, cfg.Mode)
	}
	if cfg.Session.PollMs != 100 {
		t.Fatalf("poll_ms = %d, want 100", cfg.Session.PollMs)
	}
	// Unset keys keep the defaults.
	if cfg.Session.EventCap != 256 {
		t.Fatalf("event_cap = %d, want default 256", cfg.Session.EventCap)
	}
	if filepath.Base(cfg.Files.History) != "laundr.db" {
		t.Fatalf("history = %q, want default laundr.db", cfg.Files.History)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Mode != "hack" {
		t.Fatalf("mode = %q, want hack", cfg.Mode)
	}
	if cfg.Session.PollMs != 250 || cfg.Session.EventCap != 256 {
		t.Fatalf("session defaults = %+v", cfg.Session)
	}
	if cfg.Files.Ledger != "transactions.csv" {
		t.Fatalf("ledger = %q", cfg.Files.Ledger)
	}
}

func TestLoadExplicitEmptySinkDisablesIt(t *testing.T) {
	cfgPath := writeConfig(t, `
files:
  ledger: ""
  nonces: ""
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Files.Ledger != "" || cfg.Files.Nonces != "" {
		t.Fatalf("sinks = %q/%q, want disabled", cfg.Files.Ledger, cfg.Files.Nonces)
	}
	if cfg.Files.History == "" {
		t.Fatal("unset history lost its default")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	cfgPath := writeConfig(t, `
mode: hack
polling_ms: 250
`)
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	cfgPath := writeConfig(t, `
mode: stealth
`)
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.mode") {
		t.Fatalf("expected mode error, got %v", err)
	}
}

func TestLoadRejectsBadPollInterval(t *testing.T) {
	cfgPath := writeConfig(t, `
session:
  poll_ms: 5
`)
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "poll_ms") {
		t.Fatalf("expected poll_ms error, got %v", err)
	}
}
