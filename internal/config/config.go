package config

import (
	"encoding/json"
	"os"
	"strconv"

	"ticketflow/internal/constants"
	"ticketflow/internal/models"
)

var (
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingAdapterURL = models.ConfigError{Message: "missing channel adapter base URL"}
)

// LoadConfig reads the JSON configuration at path, validates it, and applies
// environment-variable overrides.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Channel.AdapterBaseURL == "" {
		return ErrMissingAdapterURL
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Channel.SendTimeoutSec == 0 {
		c.Channel.SendTimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Assistant.TimeoutSec == 0 {
		c.Assistant.TimeoutSec = constants.DefaultAssistantTimeoutSec
	}
	if c.Assistant.ContextMessages == 0 {
		c.Assistant.ContextMessages = constants.DefaultAssistantContextMessages
	}
	if c.SLA.SweepSchedule == "" {
		c.SLA.SweepSchedule = constants.DefaultSLASweepSchedule
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("TICKETFLOW_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("TICKETFLOW_ADAPTER_URL"); v != "" {
		c.Channel.AdapterBaseURL = v
	}
	if v := os.Getenv("TICKETFLOW_ADAPTER_API_KEY"); v != "" {
		c.Channel.APIKey = v
	}
	if v := os.Getenv("TICKETFLOW_ASSISTANT_WEBHOOK_URL"); v != "" {
		c.Assistant.WebhookURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}
