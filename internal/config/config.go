package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hondutalent/bridge/internal/proxy"
)

// Config is the daemon configuration, read from bridged.toml.
type Config struct {
	DataDir string `toml:"data_dir"`
	Listen  string `toml:"listen"`

	Proxies []proxy.Descriptor `toml:"proxies"`

	CRM       CRM       `toml:"crm"`
	LLM       LLM       `toml:"llm"`
	Scheduler Scheduler `toml:"scheduler"`
	Workers   Workers   `toml:"workers"`
}

// CRM configures the backend the bot tools call into.
type CRM struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
}

// LLM configures the OpenAI-compatible completion endpoint.
type LLM struct {
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	AnalysisModel string `toml:"analysis_model"`
}

// Scheduler configures local business-hours delivery windows.
type Scheduler struct {
	Timezone  string `toml:"timezone"`
	OpenHour  int    `toml:"open_hour"`
	CloseHour int    `toml:"close_hour"`
}

// Workers configures the periodic task intervals.
type Workers struct {
	QueueInterval    Duration `toml:"queue_interval"`
	AnalysisInterval Duration `toml:"analysis_interval"`
}

// Duration is a time.Duration that decodes from TOML strings like "60s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a config with working defaults for everything except
// credentials.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".bridged"),
		Listen:  "127.0.0.1:3000",
		LLM: LLM{
			BaseURL:       "https://api.openai.com/v1",
			AnalysisModel: "gpt-4o-mini",
		},
		CRM: CRM{
			Timeout: Duration(15 * time.Second),
		},
		Scheduler: Scheduler{
			Timezone:  "America/Tegucigalpa",
			OpenHour:  8,
			CloseHour: 19,
		},
		Workers: Workers{
			QueueInterval:    Duration(time.Minute),
			AnalysisInterval: Duration(15 * time.Second),
		},
	}
}

// Load reads config from path over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.OpenHour < 0 || c.Scheduler.OpenHour > 23 ||
		c.Scheduler.CloseHour < 1 || c.Scheduler.CloseHour > 24 ||
		c.Scheduler.OpenHour >= c.Scheduler.CloseHour {
		return fmt.Errorf("invalid business hours %d-%d", c.Scheduler.OpenHour, c.Scheduler.CloseHour)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return nil
}

// SessionsDir returns the root directory for per-tenant session auth state.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// SessionDir returns the auth/storage directory for one session. Transport
// credentials live here, so the same session id reconnects without pairing.
func (c *Config) SessionDir(tenantID, sessionID string) string {
	return filepath.Join(c.SessionsDir(), tenantID, sessionID)
}

// DBPath returns the path of the conversation store database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "bridge.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "bridged.log")
}
