package reader

import (
	"context"
	"errors"
	"time"
)

// Record is one raw message extracted from a source channel by the gateway.
type Record struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// SessionStatus is the lifecycle state of a channel's reader session.
type SessionStatus string

const (
	SessionStarting SessionStatus = "STARTING"
	SessionWorking  SessionStatus = "WORKING"
	SessionFailed   SessionStatus = "FAILED"
	SessionStopped  SessionStatus = "STOPPED"
)

// ErrSessionDead signals that the underlying reader session is unusable and
// must be reacquired before further polling.
var ErrSessionDead = errors.New("reader session dead")

// Client is the channel reader capability: open/resume a session per channel,
// poll for records newer than a watermark, and signal session death. Each
// channel owns exactly one session; callers must not drive the same session
// from two goroutines.
type Client interface {
	StartSession(ctx context.Context, channelID string) error
	SessionStatus(ctx context.Context, channelID string) (SessionStatus, error)
	RestartSession(ctx context.Context, channelID string) error
	StopSession(ctx context.Context, channelID string) error
	WaitForSessionReady(ctx context.Context, channelID string, timeout time.Duration) error
	Poll(ctx context.Context, channelID, afterID string, limit int) ([]Record, error)
}
