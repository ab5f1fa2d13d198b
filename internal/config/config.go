package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Recovery policies applied to jobs found in the in-flight stage at startup.
const (
	RecoveryLeave   = "leave"
	RecoveryFail    = "fail"
	RecoveryRequeue = "requeue"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Queue    QueueConfig     `yaml:"queue"`
	Printer  PrinterConfig   `yaml:"printer"`
	Database DatabaseConfig  `yaml:"database"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type QueueConfig struct {
	Dir               string        `yaml:"dir"`
	DrainInterval     time.Duration `yaml:"drain_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	InterJobDelay     time.Duration `yaml:"inter_job_delay"`
	RenderTimeout     time.Duration `yaml:"render_timeout"`
	WriteRetries      int           `yaml:"write_retries"`
	WriteRetryDelay   time.Duration `yaml:"write_retry_delay"`
	RecoveryPolicy    string        `yaml:"recovery_policy"`
}

type PrinterConfig struct {
	IP                string        `yaml:"ip"`
	Port              int           `yaml:"port"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	TicketWidth       int           `yaml:"ticket_width"`
	BusinessName      string        `yaml:"business_name"`
	HeaderLogo        string        `yaml:"header_logo"`
	FooterLogo        string        `yaml:"footer_logo"`
	FooterText        string        `yaml:"footer_text"`
	PrintConfirmation bool          `yaml:"print_confirmation"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         4040,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Dir:               "./data",
			DrainInterval:     2 * time.Second,
			ReconcileInterval: 5 * time.Second,
			InterJobDelay:     500 * time.Millisecond,
			RenderTimeout:     60 * time.Second,
			WriteRetries:      3,
			WriteRetryDelay:   100 * time.Millisecond,
			RecoveryPolicy:    RecoveryRequeue,
		},
		Printer: PrinterConfig{
			Port:              9100,
			ConnectionTimeout: 3 * time.Second,
			PingTimeout:       1500 * time.Millisecond,
			TicketWidth:       48,
			BusinessName:      "Mi Negocio",
			FooterText:        "Impulsado por Absolute.",
			PrintConfirmation: true,
		},
		Database: DatabaseConfig{
			Path:          "./data/ticketspool.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads the YAML file at configPath on top of the defaults. A missing
// file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("TICKETSPOOL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("TICKETSPOOL_QUEUE_DIR"); v != "" {
		c.Queue.Dir = v
	}

	if v := os.Getenv("TICKETSPOOL_PRINTER_IP"); v != "" {
		c.Printer.IP = v
	}

	if v := os.Getenv("TICKETSPOOL_PRINTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Printer.Port = port
		}
	}

	if v := os.Getenv("TICKETSPOOL_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("TICKETSPOOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Save writes the configuration as YAML through a temp file and rename.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, configPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Queue.Dir == "" {
		return fmt.Errorf("queue dir is required")
	}

	if c.Queue.DrainInterval <= 0 {
		return fmt.Errorf("drain interval must be positive")
	}

	if c.Queue.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}

	if c.Queue.InterJobDelay < 0 {
		return fmt.Errorf("inter job delay must be non-negative")
	}

	if c.Queue.RenderTimeout < 0 {
		return fmt.Errorf("render timeout must be non-negative")
	}

	if c.Queue.WriteRetries < 1 {
		return fmt.Errorf("write retries must be at least 1")
	}

	validPolicies := map[string]bool{
		RecoveryLeave:   true,
		RecoveryFail:    true,
		RecoveryRequeue: true,
	}

	if !validPolicies[c.Queue.RecoveryPolicy] {
		return fmt.Errorf("invalid recovery policy: %s (valid: leave, fail, requeue)", c.Queue.RecoveryPolicy)
	}

	if c.Printer.Port < 1 || c.Printer.Port > 65535 {
		return fmt.Errorf("printer port must be between 1 and 65535, got %d", c.Printer.Port)
	}

	if c.Printer.TicketWidth < 16 {
		return fmt.Errorf("ticket width must be at least 16 columns")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("retention days must be non-negative")
	}

	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}

// PrinterAddress returns host:port for the configured printer.
func (c *Config) PrinterAddress() string {
	return fmt.Sprintf("%s:%d", c.Printer.IP, c.Printer.Port)
}
