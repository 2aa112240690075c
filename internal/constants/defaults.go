package constants

// Default polling configuration values
const (
	DefaultCheckIntervalSec   = 3
	DefaultPollTimeoutSec     = 30
	DefaultPollLimit          = 50
	DefaultRetryBackoffMs     = 1000
	DefaultMaxBackoffMs       = 60000
	DefaultMaxAttempts        = 5
	DefaultMaxTotalWaitMs     = 120000
	DefaultRetentionDays      = 30
	DefaultWatermarkMemoryCap = 4096
	DefaultMaxConcurrentPolls = 4
	DefaultServerPort         = 8082
)

// Failure thresholds for session recovery
const (
	DefaultRecoveryFailureThreshold = 3
	DefaultRecoveryMaxAttempts      = 3
	DefaultRecoveryBackoffInitialMs = 2000
	DefaultRecoveryBackoffMaxMs     = 60000
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultSenderTimeoutSec      = 10
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultSessionWaitTimeoutSec = 60
	DefaultSessionStopTimeoutSec = 5
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultCompactIntervalHours  = 24
)

// Formatting limits per destination kind
const (
	WebhookBodyRuneLimit  = 3800
	PersonalBodyRuneLimit = 2000
)

// Circuit breaker settings for destination endpoints
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerResetSec    = 60
)
