package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Reader  string        `yaml:"reader"`
	Mode    string        `yaml:"mode"`
	Files   FilesConfig   `yaml:"files"`
	Session SessionConfig `yaml:"session"`
}

type FilesConfig struct {
	CardDir string `yaml:"card_dir"`
	KeyFile string `yaml:"key_file"`
	Ledger  string `yaml:"ledger"`
	Nonces  string `yaml:"nonces"`
	History string `yaml:"history"`
}

type SessionConfig struct {
	PollMs   int `yaml:"poll_ms"`
	EventCap int `yaml:"event_cap"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Mode: "hack",
		Files: FilesConfig{
			CardDir: ".",
			Ledger:  "transactions.csv",
			Nonces:  "nonces.txt",
			History: "laundr.db",
		},
		Session: SessionConfig{
			PollMs:   250,
			EventCap: 256,
		},
	}
}

// Load reads the YAML config at path. A missing file is not an error;
// defaults apply. Unknown fields are rejected so typos do not silently
// fall back to defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	cfg := Default()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.applyDefaults()
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "", "hack", "legit", "interrogate":
	default:
		return fmt.Errorf("config.mode must be hack, legit, or interrogate, got %q", c.Mode)
	}
	if c.Session.PollMs < 10 {
		return fmt.Errorf("config.session.poll_ms must be >= 10, got %d", c.Session.PollMs)
	}
	if c.Session.EventCap < 1 {
		return fmt.Errorf("config.session.event_cap must be >= 1, got %d", c.Session.EventCap)
	}
	return nil
}

// applyDefaults fills fields an explicit file left empty. Decoding into
// a Default() base covers absent keys; empty strings still need it.
func (c *Config) applyDefaults() {
	d := Default()
	if strings.TrimSpace(c.Mode) == "" {
		c.Mode = d.Mode
	}
	if strings.TrimSpace(c.Files.CardDir) == "" {
		c.Files.CardDir = d.Files.CardDir
	}
	if c.Session.PollMs == 0 {
		c.Session.PollMs = d.Session.PollMs
	}
	if c.Session.EventCap == 0 {
		c.Session.EventCap = d.Session.EventCap
	}
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Files.CardDir = resolvePath(configDir, c.Files.CardDir)
	c.Files.KeyFile = resolvePath(configDir, c.Files.KeyFile)
	c.Files.Ledger = resolvePath(configDir, c.Files.Ledger)
	c.Files.Nonces = resolvePath(configDir, c.Files.Nonces)
	c.Files.History = resolvePath(configDir, c.Files.History)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
