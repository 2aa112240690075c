package service

import (
	"context"
	"fmt"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/retry"
	"chanrelay/pkg/reader"

	"github.com/sirupsen/logrus"
)

// SessionRecovery restarts a dead reader session with bounded backoff. The
// channel's watermark is never touched during recovery; after a successful
// restart the next poll resumes from the committed floor.
type SessionRecovery struct {
	client      reader.Client
	backoff     *retry.Backoff
	waitTimeout time.Duration
	logger      *logrus.Logger
}

func NewSessionRecovery(client reader.Client, waitTimeout time.Duration, logger *logrus.Logger) *SessionRecovery {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionRecovery{
		client: client,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultRecoveryBackoffInitialMs) * time.Millisecond,
			MaxDelay:     time.Duration(constants.DefaultRecoveryBackoffMaxMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultRecoveryMaxAttempts,
			Jitter:       true,
		}),
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

// Recover tears down and restarts the channel's session, waiting until the
// gateway reports it WORKING. Returns an error once the retry budget is
// exhausted; the caller decides whether to degrade the channel.
func (sr *SessionRecovery) Recover(ctx context.Context, channelID string) error {
	sr.logger.WithField("channel", channelID).Warn("Recovering reader session")

	attempt := 0
	err := sr.backoff.Retry(ctx, func() error {
		attempt++
		if err := sr.client.RestartSession(ctx, channelID); err != nil {
			sr.logger.WithError(err).WithFields(logrus.Fields{
				"channel": channelID,
				"attempt": attempt,
			}).Warn("Session restart failed")
			return err
		}
		if err := sr.client.WaitForSessionReady(ctx, channelID, sr.waitTimeout); err != nil {
			sr.logger.WithError(err).WithFields(logrus.Fields{
				"channel": channelID,
				"attempt": attempt,
			}).Warn("Session did not become ready after restart")
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session recovery exhausted after %d attempts for channel %s: %w", attempt, channelID, err)
	}

	sr.logger.WithFields(logrus.Fields{
		"channel":  channelID,
		"attempts": attempt,
	}).Info("Reader session recovered")
	return nil
}
