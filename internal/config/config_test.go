package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4040, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Queue.DrainInterval)
	assert.Equal(t, 5*time.Second, cfg.Queue.ReconcileInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.InterJobDelay)
	assert.Equal(t, 3, cfg.Queue.WriteRetries)
	assert.Equal(t, RecoveryRequeue, cfg.Queue.RecoveryPolicy)
	assert.Equal(t, 9100, cfg.Printer.Port)
	assert.Equal(t, 48, cfg.Printer.TicketWidth)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
queue:
  dir: /var/spool/tickets
  drain_interval: 1s
  recovery_policy: fail
printer:
  ip: 192.168.1.50
webhooks:
  - url: http://localhost:9999/hook
    events: [job_failed]
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/var/spool/tickets", cfg.Queue.Dir)
	assert.Equal(t, time.Second, cfg.Queue.DrainInterval)
	assert.Equal(t, RecoveryFail, cfg.Queue.RecoveryPolicy)
	assert.Equal(t, "192.168.1.50:9100", cfg.PrinterAddress())
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"job_failed"}, cfg.Webhooks[0].Events)
	assert.Equal(t, 5*time.Second, cfg.Queue.ReconcileInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TICKETSPOOL_PORT", "5050")
	t.Setenv("TICKETSPOOL_PRINTER_IP", "10.0.0.9")
	t.Setenv("TICKETSPOOL_PRINTER_PORT", "9101")
	t.Setenv("TICKETSPOOL_LOG_LEVEL", "warn")

	cfg := Defaults()
	cfg.ApplyEnv()

	assert.Equal(t, 5050, cfg.Server.Port)
	assert.Equal(t, "10.0.0.9:9101", cfg.PrinterAddress())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty queue dir", func(c *Config) { c.Queue.Dir = "" }},
		{"zero drain interval", func(c *Config) { c.Queue.DrainInterval = 0 }},
		{"zero write retries", func(c *Config) { c.Queue.WriteRetries = 0 }},
		{"unknown recovery policy", func(c *Config) { c.Queue.RecoveryPolicy = "retry-forever" }},
		{"narrow ticket", func(c *Config) { c.Printer.TicketWidth = 8 }},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{Secret: "x"}} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Printer.IP = "192.168.0.77"
	cfg.Queue.RecoveryPolicy = RecoveryLeave
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.77", loaded.Printer.IP)
	assert.Equal(t, RecoveryLeave, loaded.Queue.RecoveryPolicy)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
