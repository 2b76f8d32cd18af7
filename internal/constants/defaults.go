package constants

// Default server configuration values
const (
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Default timeout values
const (
	DefaultSendTimeoutSec      = 30
	DefaultAssistantTimeoutSec = 20
	DefaultDatabaseBusyRetries = 3
	DefaultBackoffInitialMs    = 500
	DefaultBackoffMaxSec       = 5
)

// Default reconciliation values
const (
	DefaultAckBufferCap             = 4096
	DefaultAssistantContextMessages = 10
	DefaultSLASweepSchedule         = "@every 1m"
	SyntheticIDHint                 = "gen"
)

// Per-tenant setting keys consulted by the SLA scheduler
const (
	SettingSLAEscalationEnabled = "slaEscalationEnabled"
	SettingSLAReplyMinutes      = "slaReplyMinutes"
	SettingSLAEscalationQueueID = "slaEscalationQueueId"
)

// Encryption parameters for at-rest field encryption
const (
	EncryptionSalt       = "ticketflow-db-salt-v1"
	EncryptionLookupSalt = "ticketflow-lookup-salt-v1"
)
