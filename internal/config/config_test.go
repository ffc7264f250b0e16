package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsValidateWithTokens(t *testing.T) {
	cfg := Default()
	cfg.Auth.Tokens = map[string]string{"tok": "alice"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Locks.Lease() != 30*time.Second {
		t.Errorf("default lease = %v", cfg.Locks.Lease())
	}
	if cfg.Locks.ReaperInterval() != 10*time.Second {
		t.Errorf("default reaper interval = %v", cfg.Locks.ReaperInterval())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
store:
  path: /tmp/grid.db
locks:
  lease_seconds: 45
auth:
  tokens:
    tok-alice: alice
    tok-bob: bob
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Locks.Lease() != 45*time.Second {
		t.Errorf("lease = %v", cfg.Locks.Lease())
	}
	// Unset keys keep their defaults.
	if cfg.Locks.RenewalBudget != 30 {
		t.Errorf("renewal budget = %d", cfg.Locks.RenewalBudget)
	}
	if cfg.Auth.Tokens["tok-bob"] != "bob" {
		t.Errorf("tokens = %v", cfg.Auth.Tokens)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, `
auth:
  tokens:
    tok: alice
`)
	t.Setenv("ASSETGRID_SERVER_LISTEN", ":7000")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Errorf("env override ignored, listen = %q", cfg.Server.Listen)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no tokens", "server:\n  listen: ':8080'\n"},
		{"zero lease", "locks:\n  lease_seconds: 0\nauth:\n  tokens:\n    tok: alice\n"},
		{"negative budget", "locks:\n  renewal_budget: -1\nauth:\n  tokens:\n    tok: alice\n"},
		{"empty actor", "auth:\n  tokens:\n    tok: ''\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
