package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/ticketspool/internal/config"
)

func TestInitLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"info level", "info", zerolog.InfoLevel},
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"invalid level defaults to info", "invalid", zerolog.InfoLevel},
		{"empty level defaults to info", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Init(config.LoggingConfig{Level: tt.level, Format: "json"})
			assert.Equal(t, tt.expected, zerolog.GlobalLevel())
		})
	}
}

func TestInitWritesRollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ticketspool.log")
	Init(config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1, MaxBackups: 1})
	t.Cleanup(func() { Init(config.LoggingConfig{Level: "info", Format: "json"}) })

	logger := Logger("test-component")
	logger.Info().Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test-component"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}
