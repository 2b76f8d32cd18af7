package config

import (
	"os"
	"path/filepath"
	"testing"

	"ticketflow/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"path": "/tmp/ticketflow.db"},
		"channel": {"adapterBaseUrl": "http://adapter:3000"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultSendTimeoutSec, cfg.Channel.SendTimeoutSec)
	assert.Equal(t, constants.DefaultAssistantTimeoutSec, cfg.Assistant.TimeoutSec)
	assert.Equal(t, constants.DefaultAssistantContextMessages, cfg.Assistant.ContextMessages)
	assert.Equal(t, constants.DefaultSLASweepSchedule, cfg.SLA.SweepSchedule)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("missing database path", func(t *testing.T) {
		path := writeConfig(t, `{"channel": {"adapterBaseUrl": "http://adapter:3000"}}`)
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrMissingDBPath)
	})

	t.Run("missing adapter url", func(t *testing.T) {
		path := writeConfig(t, `{"database": {"path": "/tmp/ticketflow.db"}}`)
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrMissingAdapterURL)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeConfig(t, `{not json`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("TICKETFLOW_DB_PATH", "/data/override.db")
	t.Setenv("TICKETFLOW_ADAPTER_URL", "http://override:3000")
	t.Setenv("TICKETFLOW_ADAPTER_API_KEY", "secret-key")
	t.Setenv("TICKETFLOW_ASSISTANT_WEBHOOK_URL", "http://ai:8080/decide")
	t.Setenv("PORT", "9090")

	path := writeConfig(t, `{
		"database": {"path": "/tmp/original.db"},
		"channel": {"adapterBaseUrl": "http://original:3000"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/override.db", cfg.Database.Path)
	assert.Equal(t, "http://override:3000", cfg.Channel.AdapterBaseURL)
	assert.Equal(t, "secret-key", cfg.Channel.APIKey)
	assert.Equal(t, "http://ai:8080/decide", cfg.Assistant.WebhookURL)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigInvalidPortEnvIgnored(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	path := writeConfig(t, `{
		"server": {"port": 8111},
		"database": {"path": "/tmp/ticketflow.db"},
		"channel": {"adapterBaseUrl": "http://adapter:3000"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8111, cfg.Server.Port)
}
