package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "spawnbot/pkg/logx"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
  owner_user_ids: [111, 222]
logging:
  level: debug
  console: true
storage:
  path: ./data/test.db
  busy_timeout: "5s"
spawn:
  catch_token: egg
  default_min_interval: "45s"
  default_max_interval: "30m"
janitor:
  enabled: false
  schedule: "@every 15m"
`

func TestParseYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	m.SetLogger(logx.Nop())

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 222 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Spawn.CatchToken != "egg" || cfg.Spawn.DefaultMaxInterval != "30m" {
		t.Fatalf("spawn = %+v", cfg.Spawn)
	}
	if cfg.Janitor.IsEnabled() {
		t.Fatal("janitor.enabled: false must disable")
	}
	if cfg.Janitor.Schedule != "@every 15m" {
		t.Fatalf("schedule = %q", cfg.Janitor.Schedule)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nextra_section:\n  x: 1\n"))
	m.SetLogger(logx.Nop())
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}

	m = NewManager(writeConfig(t, "config.yaml", strings.Replace(validYAML, "catch_token", "cath_token", 1)))
	m.SetLogger(logx.Nop())
	if _, err := m.Parse(); err == nil {
		t.Fatal("misspelled nested key must be rejected")
	}
}

func TestParseJSONWithTrailingData(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{"console":true},"storage":{"path":"x.db"},"spawn":{}}`))
	m.SetLogger(logx.Nop())
	if _, err := m.Parse(); err != nil {
		t.Fatalf("plain json: %v", err)
	}

	m = NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{},"storage":{},"spawn":{}} {"second":true}`))
	m.SetLogger(logx.Nop())
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing json document must be rejected")
	}
}

func TestJanitorEnabledDefaultsTrue(t *testing.T) {
	var j JanitorConfig
	if !j.IsEnabled() {
		t.Fatal("omitted janitor.enabled must default to true")
	}
}

func TestParseDurationField(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"5s", 5 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"-1s", 0, true},
		{"5", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("spawn.debounce_window", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 7*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("set = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", time.Second); err == nil {
		t.Fatal("invalid duration must error")
	}
}
