package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/veerhq/veer/types"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration for one managed environment.
type Config struct {
	Version     string         `yaml:"version"`
	Environment string         `yaml:"environment"`
	Terraform   Terraform      `yaml:"terraform"`
	Engine      Engine         `yaml:"engine"`
	Services    types.Topology `yaml:"services,omitempty"`
	Paths       Paths          `yaml:"paths,omitempty"`
	Remediation Remediation    `yaml:"remediation,omitempty"`
	Retention   Retention      `yaml:"retention,omitempty"`
	Notify      Notify         `yaml:"notify,omitempty"`
}

// Terraform locates the planning tool's working directory and state.
type Terraform struct {
	Dir       string        `yaml:"dir"`
	StateFile string        `yaml:"state_file,omitempty"`
	VarFile   string        `yaml:"var_file,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Engine configures container-engine invocations.
type Engine struct {
	Binary      string        `yaml:"binary,omitempty"`
	HelperImage string        `yaml:"helper_image,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// Paths locates veer's own on-disk state.
type Paths struct {
	BackupDir   string `yaml:"backup_dir,omitempty"`
	ReportStore string `yaml:"report_store,omitempty"`
	WALDir      string `yaml:"wal_dir,omitempty"`
	LockDir     string `yaml:"lock_dir,omitempty"`
}

// Remediation tunes the remediation engine.
type Remediation struct {
	AutoApprove       bool          `yaml:"auto_approve,omitempty"`
	MaxRetries        int           `yaml:"max_retries,omitempty"`
	RetryDelay        time.Duration `yaml:"retry_delay,omitempty"`
	Stabilization     time.Duration `yaml:"stabilization,omitempty"`
	ObservationWindow time.Duration `yaml:"observation_window,omitempty"`
}

// Retention is the backup pruning policy: keep the newest Keep backups,
// applied only by an explicit prune, never mid-run.
type Retention struct {
	Keep int `yaml:"keep,omitempty"`
}

// Notify configures the notification dispatcher.
type Notify struct {
	WebhookURL   string `yaml:"webhook_url,omitempty"`
	AlwaysNotify bool   `yaml:"always_notify,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with defaults applied, for commands that can
// run without a config file.
func Default() *Config {
	cfg := &Config{
		Version:     "1",
		Environment: "dev",
		Terraform:   Terraform{Dir: "./terraform"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Terraform.StateFile == "" {
		c.Terraform.StateFile = filepath.Join(c.Terraform.Dir, "terraform.tfstate")
	}
	if c.Terraform.VarFile == "" {
		c.Terraform.VarFile = filepath.Join(c.Terraform.Dir, "terraform.tfvars")
	}
	if c.Terraform.Timeout == 0 {
		c.Terraform.Timeout = 10 * time.Minute
	}
	if c.Engine.Binary == "" {
		c.Engine.Binary = "docker"
	}
	if c.Engine.HelperImage == "" {
		c.Engine.HelperImage = "alpine:3.20"
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 2 * time.Minute
	}
	if c.Paths.BackupDir == "" {
		c.Paths.BackupDir = "./backups"
	}
	if c.Paths.ReportStore == "" {
		c.Paths.ReportStore = "./veer-reports"
	}
	if c.Paths.WALDir == "" {
		c.Paths.WALDir = "./veer-wal"
	}
	if c.Paths.LockDir == "" {
		c.Paths.LockDir = os.TempDir()
	}
	if c.Remediation.MaxRetries == 0 {
		c.Remediation.MaxRetries = 3
	}
	if c.Remediation.RetryDelay == 0 {
		c.Remediation.RetryDelay = 10 * time.Second
	}
	if c.Remediation.Stabilization == 0 {
		c.Remediation.Stabilization = 30 * time.Second
	}
	if c.Remediation.ObservationWindow == 0 {
		c.Remediation.ObservationWindow = 10 * time.Second
	}
	if c.Retention.Keep == 0 {
		c.Retention.Keep = 10
	}
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Terraform.Dir == "" {
		return fmt.Errorf("terraform.dir is required")
	}
	if c.Retention.Keep < 1 {
		return fmt.Errorf("retention.keep must be at least 1")
	}
	if err := c.Services.Validate(); err != nil {
		return fmt.Errorf("services: %w", err)
	}
	return nil
}
