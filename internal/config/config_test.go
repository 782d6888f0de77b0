package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen != "127.0.0.1:3000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Scheduler.Timezone != "America/Tegucigalpa" {
		t.Errorf("timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.OpenHour != 8 || cfg.Scheduler.CloseHour != 19 {
		t.Errorf("hours = %d-%d", cfg.Scheduler.OpenHour, cfg.Scheduler.CloseHour)
	}
	if cfg.Workers.QueueInterval.Std() != time.Minute {
		t.Errorf("queue interval = %v", cfg.Workers.QueueInterval.Std())
	}
	if cfg.Workers.AnalysisInterval.Std() != 15*time.Second {
		t.Errorf("analysis interval = %v", cfg.Workers.AnalysisInterval.Std())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != Default().Listen {
		t.Errorf("missing file changed defaults: %+v", cfg)
	}
}

func TestLoadOverridesAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.toml")
	content := `
listen = "0.0.0.0:8090"

[[proxies]]
server = "http://proxy-a:8080"
username = "u"
password = "p"

[[proxies]]
server = "http://proxy-b:8080"

[crm]
base_url = "https://crm.example.com"
api_key = "secret"
timeout = "30s"

[workers]
queue_interval = "90s"
analysis_interval = "5s"

[scheduler]
timezone = "America/Tegucigalpa"
open_hour = 9
close_hour = 18
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "0.0.0.0:8090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if len(cfg.Proxies) != 2 || cfg.Proxies[0].Username != "u" {
		t.Errorf("proxies = %+v", cfg.Proxies)
	}
	if cfg.CRM.Timeout.Std() != 30*time.Second {
		t.Errorf("crm timeout = %v", cfg.CRM.Timeout.Std())
	}
	if cfg.Workers.QueueInterval.Std() != 90*time.Second {
		t.Errorf("queue interval = %v", cfg.Workers.QueueInterval.Std())
	}
	if cfg.Scheduler.OpenHour != 9 || cfg.Scheduler.CloseHour != 18 {
		t.Errorf("hours = %d-%d", cfg.Scheduler.OpenHour, cfg.Scheduler.CloseHour)
	}
}

func TestLoadRejectsInvalidHours(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.toml")
	content := `
[scheduler]
timezone = "America/Tegucigalpa"
open_hour = 19
close_hour = 8
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("inverted business hours accepted")
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridged.toml")
	content := `
[scheduler]
timezone = "Mars/Olympus"
open_hour = 8
close_hour = 19
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown timezone accepted")
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/bridged"

	if got := cfg.SessionDir("acme", "henmir"); got != "/var/lib/bridged/sessions/acme/henmir" {
		t.Errorf("SessionDir = %q", got)
	}
	if got := cfg.DBPath(); got != "/var/lib/bridged/bridge.db" {
		t.Errorf("DBPath = %q", got)
	}
}
