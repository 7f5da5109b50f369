package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the production values the job has always used.
const (
	DefaultMessage   = "Good morning! Please complete your Acorn assessment before session today. See you soon!"
	DefaultFormValue = "Adult-Ver14-UNIV-28236-Online.pdf"
	DefaultSendVia   = "text"
	DefaultTextFrom  = "ACORN"
	DefaultSalt      = "therapy-ops"
	DefaultTimezone  = "America/Los_Angeles"
	DefaultCronSpec  = "0 8 * * *"
)

// Duration wraps time.Duration with YAML parsing of values like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config models acornsend.yml.
type Config struct {
	Send struct {
		Endpoint    string `yaml:"endpoint"`
		ClinicianID string `yaml:"clinician_id"`
		Message     string `yaml:"message"`
		FormValue   string `yaml:"form_value"`
		SendVia     string `yaml:"send_via"`
		TextFrom    string `yaml:"text_from"`
		Timeout     Duration `yaml:"timeout"`
	} `yaml:"send"`
	Retry struct {
		MaxAttempts int      `yaml:"max_attempts"`
		BaseDelay   Duration `yaml:"base_delay"`
	} `yaml:"retry"`
	Artifacts struct {
		Root            string `yaml:"root"`
		SummaryTemplate string `yaml:"summary_template"`
		TriageTemplate  string `yaml:"triage_template"`
	} `yaml:"artifacts"`
	Privacy struct {
		Salt string `yaml:"salt"`
	} `yaml:"privacy"`
	Recipients struct {
		Path string `yaml:"path"`
	} `yaml:"recipients"`
	Session struct {
		StatePath string   `yaml:"state_path"`
		MaxAge    Duration `yaml:"max_age"`
	} `yaml:"session"`
	Schedule struct {
		Cron     string `yaml:"cron"`
		Timezone string `yaml:"timezone"`
	} `yaml:"schedule"`
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "acornsend.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Send.ClinicianID = "ALL"
	cfg.Send.Message = DefaultMessage
	cfg.Send.FormValue = DefaultFormValue
	cfg.Send.SendVia = DefaultSendVia
	cfg.Send.TextFrom = DefaultTextFrom
	cfg.Send.Timeout = Duration(30 * time.Second)
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = Duration(2 * time.Second)
	cfg.Artifacts.Root = "artifacts/runs"
	cfg.Privacy.Salt = DefaultSalt
	cfg.Recipients.Path = "state/acorn_recipients.json"
	cfg.Session.StatePath = "browser/simplepractice_session.json"
	cfg.Session.MaxAge = Duration(12 * time.Hour)
	cfg.Schedule.Cron = DefaultCronSpec
	cfg.Schedule.Timezone = DefaultTimezone
	return cfg
}

// Load reads config from the workspace, falling back to Default when no file
// exists; environment overrides are applied by the CLI layer on top.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Send.Message == "" {
		return fmt.Errorf("config.send.message is required")
	}
	if c.Send.FormValue == "" {
		return fmt.Errorf("config.send.form_value is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay.Std() < 0 {
		return fmt.Errorf("config.retry.base_delay must not be negative")
	}
	if c.Artifacts.Root == "" {
		return fmt.Errorf("config.artifacts.root is required")
	}
	if c.Schedule.Cron == "" {
		return fmt.Errorf("config.schedule.cron is required")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("config.schedule.timezone: %w", err)
	}
	return nil
}
