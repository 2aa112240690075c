package service

import (
	"context"
	"sync"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/metrics"
	"chanrelay/internal/models"
	"chanrelay/internal/privacy"
	"chanrelay/internal/retry"
	"chanrelay/internal/tracing"
	"chanrelay/pkg/circuitbreaker"
	"chanrelay/pkg/sender"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DeliveryCoordinator fans each unseen record out to its destinations,
// applying the retry/backoff policy per destination and reporting which
// records reached a terminal state on every destination.
type DeliveryCoordinator struct {
	router    *Router
	senders   map[models.SenderKind]sender.Sender
	formatter *Formatter
	backoff   *retry.Backoff
	registry  *metrics.Registry
	logger    *logrus.Logger

	breakerMu sync.Mutex
	breakers  map[string]*circuitbreaker.CircuitBreaker
}

func NewDeliveryCoordinator(
	router *Router,
	senders map[models.SenderKind]sender.Sender,
	formatter *Formatter,
	backoffConfig retry.BackoffConfig,
	registry *metrics.Registry,
	logger *logrus.Logger,
) *DeliveryCoordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &DeliveryCoordinator{
		router:    router,
		senders:   senders,
		formatter: formatter,
		backoff:   retry.NewBackoff(backoffConfig),
		registry:  registry,
		logger:    logger,
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// DeliverBatch delivers records in reader order and returns the ids safe to
// commit. Only the leading run of fully-terminal records is returned: the
// watermark floor is the maximum committed id, so committing past a stuck
// record would orphan it on the next poll.
func (dc *DeliveryCoordinator) DeliverBatch(ctx context.Context, records []models.MessageRecord) []string {
	committed := make([]string, 0, len(records))

	for i, rec := range records {
		recCtx, span := tracing.StartSpan(ctx, "relay.deliver_record",
			attribute.String("channel.id", rec.ChannelID),
			attribute.String("message.id", privacy.MaskMessageID(rec.MessageID)),
		)
		terminal := dc.deliverRecord(recCtx, rec)
		span.End()

		if !terminal {
			remaining := len(records) - i
			dc.logger.WithFields(logrus.Fields{
				"channel":   rec.ChannelID,
				"messageId": privacy.MaskMessageID(rec.MessageID),
				"deferred":  remaining,
			}).Warn("Record not terminal on all destinations, deferring rest of batch to next cycle")
			break
		}
		committed = append(committed, rec.MessageID)
	}

	return committed
}

// deliverRecord attempts every destination for one record and reports whether
// all of them reached a terminal state. A permanent failure at one
// destination never blocks the others.
func (dc *DeliveryCoordinator) deliverRecord(ctx context.Context, rec models.MessageRecord) bool {
	dests, err := dc.router.DestinationsFor(rec.ChannelID)
	if err != nil {
		dc.logger.WithError(err).WithField("channel", rec.ChannelID).Error("No route for channel")
		return false
	}
	channelName := dc.router.ChannelName(rec.ChannelID)

	allTerminal := true
	for _, dest := range dests {
		attempt := dc.deliverToDestination(ctx, rec, channelName, dest)
		dc.logOutcome(attempt)
		if !attempt.Status.Terminal() {
			allTerminal = false
		}
	}
	return allTerminal
}

func (dc *DeliveryCoordinator) deliverToDestination(ctx context.Context, rec models.MessageRecord, channelName string, dest models.Destination) *models.DeliveryAttempt {
	attempt := &models.DeliveryAttempt{
		Record:      &rec,
		Destination: dest,
		Status:      models.DeliveryStatusPending,
	}

	snd, ok := dc.senders[dest.Kind]
	if !ok {
		attempt.Status = models.DeliveryStatusFailedPermanent
		attempt.LastError = sender.Permanent(errNoSender(dest.Kind))
		return attempt
	}

	payload := dc.formatter.Format(rec, channelName, dest)
	breaker := dc.breakerFor(dest)

	operation := func() error {
		attempt.AttemptCount++
		return breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultSenderTimeoutSec)*time.Second)
			defer cancel()
			return snd.Deliver(callCtx, payload, dest.Target)
		})
	}

	err := dc.backoff.RetryWithPredicate(ctx, operation, func(err error) bool {
		// Permanent failures stop immediately; an open breaker means the
		// endpoint is down, so back off until the next cycle instead of
		// burning the retry budget.
		return !sender.IsPermanent(err) && !circuitbreaker.IsOpen(err)
	})

	attempt.LastError = err
	switch {
	case err == nil:
		attempt.Status = models.DeliveryStatusDelivered
	case sender.IsPermanent(err):
		attempt.Status = models.DeliveryStatusFailedPermanent
	default:
		// Transient and still failing after the retry budget: leave pending
		// so the record is retried next cycle from the prior watermark.
		attempt.Status = models.DeliveryStatusPending
	}

	return attempt
}

func (dc *DeliveryCoordinator) breakerFor(dest models.Destination) *circuitbreaker.CircuitBreaker {
	dc.breakerMu.Lock()
	defer dc.breakerMu.Unlock()

	key := string(dest.Kind) + "|" + dest.Target
	if cb, ok := dc.breakers[key]; ok {
		return cb
	}
	cb := circuitbreaker.New(
		dest.Name,
		constants.DefaultBreakerMaxFailures,
		time.Duration(constants.DefaultBreakerResetSec)*time.Second,
		dc.logger,
	)
	dc.breakers[key] = cb
	return cb
}

// logOutcome emits one outcome entry per (record, destination) pair.
func (dc *DeliveryCoordinator) logOutcome(attempt *models.DeliveryAttempt) {
	fields := logrus.Fields{
		"channel":     attempt.Record.ChannelID,
		"messageId":   privacy.MaskMessageID(attempt.Record.MessageID),
		"destination": attempt.Destination.Name,
		"kind":        string(attempt.Destination.Kind),
		"target":      maskTarget(attempt.Destination),
		"attempts":    attempt.AttemptCount,
		"status":      string(attempt.Status),
	}

	labels := map[string]string{"kind": string(attempt.Destination.Kind)}
	switch attempt.Status {
	case models.DeliveryStatusDelivered:
		dc.registry.IncrementCounter("relay_deliveries_total", labels)
		dc.logger.WithFields(fields).Info("Delivered")
	case models.DeliveryStatusFailedPermanent:
		dc.registry.IncrementCounter("relay_permanent_failures_total", labels)
		dc.logger.WithFields(fields).WithError(attempt.LastError).Error("Delivery failed permanently")
	default:
		dc.registry.IncrementCounter("relay_transient_failures_total", labels)
		dc.logger.WithFields(fields).WithError(attempt.LastError).Warn("Delivery still pending after retries")
	}
}

// maskTarget hides webhook keys and contact names in log output.
func maskTarget(dest models.Destination) string {
	switch dest.Kind {
	case models.SenderKindWebhook:
		return privacy.MaskWebhookURL(dest.Target)
	case models.SenderKindPersonal:
		return privacy.MaskContactName(dest.Target)
	default:
		return dest.Target
	}
}

type errNoSender models.SenderKind

func (e errNoSender) Error() string {
	return "no sender registered for kind " + string(e)
}
