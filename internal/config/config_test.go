package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  host: "0.0.0.0"
  port: 8080
database:
  driver: "postgres"
  host: "localhost"
  port: 5432
  name: "liftoff"
  user: "liftoff"
  password: "secret"
  sslmode: "disable"
local:
  driver: "bolt"
  dir: "/var/lib/liftoff"
user:
  id: "alice"
  display_name: "Alice"
auth:
  api_key: "test-key-123"
tailscale:
  enabled: true
  hostname: "liftoff"
  allowed_logins: ["alice@example.com"]
session:
  history_fill_concurrency: 2
  history_fill_timeout: 3s
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadValid verifies that a well-formed YAML config loads with all fields populated.
func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server.host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("database.driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Local.Driver != "bolt" || cfg.Local.Dir != "/var/lib/liftoff" {
		t.Errorf("local = %+v", cfg.Local)
	}
	if cfg.User.ID != "alice" {
		t.Errorf("user.id = %q, want alice", cfg.User.ID)
	}
	if len(cfg.Tailscale.AllowedLogins) != 1 || cfg.Tailscale.AllowedLogins[0] != "alice@example.com" {
		t.Errorf("tailscale.allowed_logins = %v", cfg.Tailscale.AllowedLogins)
	}
	if cfg.Session.HistoryFillConcurrency != 2 {
		t.Errorf("session.history_fill_concurrency = %d, want 2", cfg.Session.HistoryFillConcurrency)
	}
	if cfg.Session.HistoryFillTimeout != 3*time.Second {
		t.Errorf("session.history_fill_timeout = %v, want 3s", cfg.Session.HistoryFillTimeout)
	}
	// Unset sections keep their defaults.
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v, want defaults", cfg.Log)
	}
}

// TestLoadWithoutFile verifies the defaults alone form a valid config.
func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("database.driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Local.Driver != "sqlite" {
		t.Errorf("local.driver = %q, want sqlite", cfg.Local.Driver)
	}
}

// TestEnvOverride verifies that LIFTOFF_ env vars take precedence over YAML values.
func TestEnvOverride(t *testing.T) {
	t.Setenv("LIFTOFF_DB_HOST", "override-host")
	t.Setenv("LIFTOFF_DB_PORT", "9999")
	t.Setenv("LIFTOFF_USER_ID", "bob")
	t.Setenv("LIFTOFF_TAILSCALE_ALLOWED_LOGINS", "bob@example.com, carol@example.com")
	t.Setenv("LIFTOFF_LOG_FORMAT", "json")

	cfg, err := Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "override-host" {
		t.Errorf("database.host = %q, want %q", cfg.Database.Host, "override-host")
	}
	if cfg.Database.Port != 9999 {
		t.Errorf("database.port = %d, want 9999", cfg.Database.Port)
	}
	if cfg.User.ID != "bob" {
		t.Errorf("user.id = %q, want bob", cfg.User.ID)
	}
	if got := strings.Join(cfg.Tailscale.AllowedLogins, ","); got != "bob@example.com,carol@example.com" {
		t.Errorf("allowed_logins = %q", got)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %q, want json", cfg.Log.Format)
	}
	// Unchanged fields should keep YAML values
	if cfg.Database.Name != "liftoff" {
		t.Errorf("database.name = %q, want liftoff", cfg.Database.Name)
	}
}

// TestEnvOverrideBadPortIgnored verifies a non-numeric port leaves the file value.
func TestEnvOverrideBadPortIgnored(t *testing.T) {
	t.Setenv("LIFTOFF_SERVER_PORT", "eighty")
	cfg, err := Load(writeTemp(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"postgres without host", "database:\n  driver: postgres\n", "database.host"},
		{"unknown db driver", "database:\n  driver: mongo\n", "database.driver"},
		{"unknown local driver", "local:\n  driver: leveldb\n", "local.driver"},
		{"empty user", "user:\n  id: \" \"\n", "user.id"},
		{"tailscale without hostname", "tailscale:\n  enabled: true\n", "tailscale.hostname"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"zero concurrency", "session:\n  history_fill_concurrency: 0\n", "history_fill_concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "server: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "liftoff", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/liftoff?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
