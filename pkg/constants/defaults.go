package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec        = 30
	SessionStatusPollIntervalSec = 2
	SessionStatusTimeoutSec      = 5
)

// Validation constants used by client packages
const (
	MaxMessageIDLength = 256
	MaxChannelIDLength = 128
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)
