package models

// Config is the application configuration loaded from a JSON file with
// environment-variable overrides applied afterwards.
type Config struct {
	LogLevel string `json:"logLevel"`

	Server struct {
		Port int `json:"port"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Channel struct {
		AdapterBaseURL string `json:"adapterBaseUrl"`
		APIKey         string `json:"apiKey,omitempty"`
		SendTimeoutSec int    `json:"sendTimeoutSec"`
	} `json:"channel"`

	Assistant struct {
		WebhookURL      string `json:"webhookUrl"`
		TimeoutSec      int    `json:"timeoutSec"`
		ContextMessages int    `json:"contextMessages"`
	} `json:"assistant"`

	SLA struct {
		SweepSchedule string `json:"sweepSchedule"`
	} `json:"sla"`

	Tracing TracingConfig `json:"tracing"`
}

// TracingConfig controls the OpenTelemetry tracing manager.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// ConfigError indicates an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
