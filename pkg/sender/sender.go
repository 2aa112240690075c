package sender

import (
	"context"
	"errors"
	"fmt"
)

// Payload is one formatted message ready for a specific destination kind.
type Payload struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
	MessageID   string `json:"message_id"`
	Author      string `json:"author"`
	Body        string `json:"body"`
}

// Sender delivers one formatted payload to one destination target. Errors are
// retriable unless wrapped with Permanent.
type Sender interface {
	// Deliver sends the payload to the target (contact name, webhook URL or
	// topic, depending on the kind).
	Deliver(ctx context.Context, payload Payload, target string) error

	// Verify checks the sender's backing service at startup. Failures are
	// reported, not fatal.
	Verify(ctx context.Context) error

	Kind() string
}

// PermanentError marks a delivery failure that retrying cannot fix
// (malformed destination, revoked credential).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as non-retriable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a non-retriable delivery failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
