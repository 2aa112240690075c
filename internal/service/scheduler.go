package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/database"
	"chanrelay/internal/metrics"
	"chanrelay/internal/models"
	"chanrelay/internal/retry"
	"chanrelay/internal/tracing"
	"chanrelay/pkg/reader"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ChannelState is the lifecycle state of one channel's polling loop.
type ChannelState string

const (
	ChannelIdle       ChannelState = "idle"
	ChannelPolling    ChannelState = "polling"
	ChannelDelivering ChannelState = "delivering"
	ChannelRecovering ChannelState = "recovering"
	ChannelDegraded   ChannelState = "degraded"
)

// ChannelStatus is a point-in-time view of one channel loop, exposed through
// the status endpoint.
type ChannelStatus struct {
	ChannelID           string       `json:"channel_id"`
	Name                string       `json:"name"`
	State               ChannelState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	WatermarkMaxID      string       `json:"watermark_max_id"`
	WatermarkSize       int          `json:"watermark_size"`
	LastPollAt          time.Time    `json:"last_poll_at,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
}

type channelLoop struct {
	cfg       models.ChannelConfig
	watermark *models.Watermark

	// ids delivered but not yet durably committed; flushed every cycle until
	// the store accepts them.
	pendingCommit []string

	mu                  sync.Mutex
	state               ChannelState
	consecutiveFailures int
	lastPollAt          time.Time
	lastError           string
}

func (cl *channelLoop) setState(s ChannelState) {
	cl.mu.Lock()
	cl.state = s
	cl.mu.Unlock()
}

func (cl *channelLoop) recordFailure(err error) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consecutiveFailures++
	cl.lastError = err.Error()
	return cl.consecutiveFailures
}

func (cl *channelLoop) recordSuccess() {
	cl.mu.Lock()
	cl.consecutiveFailures = 0
	cl.lastError = ""
	cl.lastPollAt = time.Now()
	cl.mu.Unlock()
}

// Scheduler runs one polling loop per configured channel. Channels are fully
// isolated: a dead session or degraded endpoint on one channel never stalls
// the others. A semaphore bounds how many channels poll the gateway at once.
type Scheduler struct {
	cfg         *models.Config
	store       database.Store
	client      reader.Client
	dedup       *Deduplicator
	coordinator *DeliveryCoordinator
	recovery    *SessionRecovery
	router      *Router
	registry    *metrics.Registry
	logger      *logrus.Logger

	semaphore chan struct{}
	loops     map[string]*channelLoop
	loopsMu   sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(
	cfg *models.Config,
	store database.Store,
	client reader.Client,
	dedup *Deduplicator,
	coordinator *DeliveryCoordinator,
	recovery *SessionRecovery,
	router *Router,
	registry *metrics.Registry,
	logger *logrus.Logger,
) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &Scheduler{
		cfg:         cfg,
		store:       store,
		client:      client,
		dedup:       dedup,
		coordinator: coordinator,
		recovery:    recovery,
		router:      router,
		registry:    registry,
		logger:      logger,
		semaphore:   make(chan struct{}, cfg.MaxConcurrentPolls),
		loops:       make(map[string]*channelLoop),
		stopCh:      make(chan struct{}),
	}
}

// Start launches one goroutine per configured channel and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, channel := range s.cfg.Channels {
		loop := &channelLoop{cfg: channel, state: ChannelIdle}
		s.loopsMu.Lock()
		s.loops[channel.ID] = loop
		s.loopsMu.Unlock()

		s.wg.Add(1)
		go s.runChannel(ctx, loop)
	}
	s.logger.WithField("channels", len(s.cfg.Channels)).Info("Scheduler started")
	return nil
}

// Stop signals all channel loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// StatusSnapshot returns the current state of every channel loop.
func (s *Scheduler) StatusSnapshot() []ChannelStatus {
	s.loopsMu.RLock()
	defer s.loopsMu.RUnlock()

	out := make([]ChannelStatus, 0, len(s.loops))
	for _, id := range s.router.ChannelIDs() {
		loop, ok := s.loops[id]
		if !ok {
			continue
		}
		loop.mu.Lock()
		status := ChannelStatus{
			ChannelID:           loop.cfg.ID,
			Name:                s.router.ChannelName(loop.cfg.ID),
			State:               loop.state,
			ConsecutiveFailures: loop.consecutiveFailures,
			LastPollAt:          loop.lastPollAt,
			LastError:           loop.lastError,
		}
		if loop.watermark != nil {
			status.WatermarkMaxID = loop.watermark.MaxID
			status.WatermarkSize = loop.watermark.Size()
		}
		loop.mu.Unlock()
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) runChannel(ctx context.Context, loop *channelLoop) {
	defer s.wg.Done()

	log := s.logger.WithField("channel", loop.cfg.ID)

	// A failed first open gets the same recovery budget a mid-run dead
	// session does; a boot-time gateway blip should not degrade the channel.
	if err := s.openSession(ctx, loop); err != nil {
		log.WithError(err).Warn("Reader session did not open, attempting recovery")
		loop.setState(ChannelRecovering)
		s.registry.IncrementCounter("relay_session_recoveries_total", map[string]string{"channel": loop.cfg.ID})
		if recErr := s.recovery.Recover(ctx, loop.cfg.ID); recErr != nil {
			log.WithError(recErr).Error("Session recovery failed, channel degraded")
			loop.setState(ChannelDegraded)
			s.registry.IncrementCounter("relay_channels_degraded_total", nil)
			return
		}
	}
	defer s.releaseSession(loop)

	wm, err := s.loadWatermark(ctx, loop.cfg.ID)
	if err != nil {
		log.WithError(err).Error("Could not load watermark, channel degraded")
		loop.setState(ChannelDegraded)
		s.registry.IncrementCounter("relay_channels_degraded_total", nil)
		return
	}
	loop.mu.Lock()
	loop.watermark = wm
	loop.mu.Unlock()

	log.WithFields(logrus.Fields{
		"initialized": wm.Initialized,
		"watermark":   wm.MaxID,
	}).Info("Channel loop running")

	interval := time.Duration(s.cfg.CheckIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		select {
		case s.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}

		degraded := s.runCycle(ctx, loop)
		<-s.semaphore

		if degraded {
			loop.setState(ChannelDegraded)
			log.Error("Channel degraded, polling stopped")
			s.registry.IncrementCounter("relay_channels_degraded_total", nil)
			return
		}
	}
}

// loadWatermark reads the channel's watermark with a short backoff so a
// briefly locked database at boot does not degrade the channel.
func (s *Scheduler) loadWatermark(ctx context.Context, channelID string) (*models.Watermark, error) {
	var wm *models.Watermark
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err := backoff.Retry(ctx, func() error {
		var loadErr error
		wm, loadErr = s.store.GetWatermark(ctx, channelID)
		return loadErr
	})
	return wm, err
}

// releaseSession frees the reader session so the gateway can reuse its slot.
// Runs during shutdown, so it carries its own deadline.
func (s *Scheduler) releaseSession(loop *channelLoop) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultSessionStopTimeoutSec)*time.Second)
	defer cancel()
	if err := s.client.StopSession(ctx, loop.cfg.ID); err != nil {
		s.logger.WithError(err).WithField("channel", loop.cfg.ID).Debug("Session release failed")
	}
}

func (s *Scheduler) openSession(ctx context.Context, loop *channelLoop) error {
	if err := s.client.StartSession(ctx, loop.cfg.ID); err != nil {
		return err
	}
	waitTimeout := time.Duration(s.cfg.Reader.SessionWaitTimeoutSec) * time.Second
	return s.client.WaitForSessionReady(ctx, loop.cfg.ID, waitTimeout)
}

// runCycle performs one poll-dedup-deliver-commit pass. It reports true when
// the channel can no longer make progress and must be degraded.
func (s *Scheduler) runCycle(ctx context.Context, loop *channelLoop) bool {
	ctx, span := tracing.StartSpan(ctx, "relay.poll_cycle",
		attribute.String("channel.id", loop.cfg.ID),
	)
	defer span.End()

	log := s.logger.WithField("channel", loop.cfg.ID)
	loop.setState(ChannelPolling)
	defer loop.setState(ChannelIdle)

	// Retry any ids delivered last cycle that the store refused.
	if !s.flushPending(ctx, loop) {
		return false
	}

	loop.mu.Lock()
	afterID := loop.watermark.MaxID
	loop.mu.Unlock()

	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Reader.PollTimeoutSec)*time.Second)
	raw, err := s.client.Poll(pollCtx, loop.cfg.ID, afterID, s.cfg.Reader.PollLimit)
	cancel()
	s.registry.RecordTimer("relay_poll_duration", time.Since(start), map[string]string{"channel": loop.cfg.ID})

	if err != nil {
		return s.handlePollFailure(ctx, loop, err)
	}
	loop.recordSuccess()
	s.registry.IncrementCounter("relay_polls_total", map[string]string{"channel": loop.cfg.ID})

	records := toMessageRecords(loop.cfg.ID, raw)

	if !loop.watermark.Initialized {
		return s.initializeBaseline(ctx, loop, records)
	}

	unseen := s.dedup.Filter(loop.watermark, records)
	if dropped := len(records) - len(unseen); dropped > 0 {
		s.registry.AddToCounter("relay_deduped_total", float64(dropped), map[string]string{"channel": loop.cfg.ID})
	}
	if len(unseen) == 0 {
		return false
	}

	loop.setState(ChannelDelivering)
	committed := s.coordinator.DeliverBatch(ctx, unseen)
	if len(committed) == 0 {
		return false
	}

	// Delivery happened; advance the in-memory watermark first so a failed
	// store commit cannot cause an in-process redelivery. The store commit is
	// retried next cycle via pendingCommit.
	loop.mu.Lock()
	for _, id := range committed {
		loop.watermark.Add(id)
	}
	// The store compactor prunes durable entries; bound the in-memory set the
	// same way so a long-running channel does not grow without limit.
	loop.watermark.Compact(constants.DefaultWatermarkMemoryCap)
	loop.mu.Unlock()
	loop.pendingCommit = append(loop.pendingCommit, committed...)
	s.registry.AddToCounter("relay_forwarded_total", float64(len(committed)), map[string]string{"channel": loop.cfg.ID})

	if !s.flushPending(ctx, loop) {
		log.Warn("Watermark commit deferred, will retry next cycle")
	}
	return false
}

// flushPending commits any delivered-but-uncommitted ids. Returns false only
// when the store rejected the commit.
func (s *Scheduler) flushPending(ctx context.Context, loop *channelLoop) bool {
	if len(loop.pendingCommit) == 0 {
		return true
	}
	if err := s.store.CommitForwarded(ctx, loop.cfg.ID, loop.pendingCommit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"channel": loop.cfg.ID,
			"pending": len(loop.pendingCommit),
		}).Error("Watermark commit failed")
		return false
	}
	loop.pendingCommit = loop.pendingCommit[:0]
	return true
}

func (s *Scheduler) handlePollFailure(ctx context.Context, loop *channelLoop, err error) bool {
	log := s.logger.WithField("channel", loop.cfg.ID)

	failures := loop.recordFailure(err)
	sessionDead := errors.Is(err, reader.ErrSessionDead)

	if !sessionDead && failures < constants.DefaultRecoveryFailureThreshold {
		log.WithError(err).WithField("consecutiveFailures", failures).Warn("Poll failed")
		return false
	}

	log.WithError(err).WithFields(logrus.Fields{
		"consecutiveFailures": failures,
		"sessionDead":         sessionDead,
	}).Warn("Poll failures crossed threshold, recovering session")

	loop.setState(ChannelRecovering)
	s.registry.IncrementCounter("relay_session_recoveries_total", map[string]string{"channel": loop.cfg.ID})

	if recErr := s.recovery.Recover(ctx, loop.cfg.ID); recErr != nil {
		log.WithError(recErr).Error("Session recovery failed")
		return true
	}
	loop.recordSuccess()
	return false
}

// initializeBaseline applies first-run handling. skip-backlog records the
// backlog visible in the first poll as already forwarded without delivering
// it; forward-backlog initializes empty so the backlog flows through the
// normal pipeline next cycle.
func (s *Scheduler) initializeBaseline(ctx context.Context, loop *channelLoop, records []models.MessageRecord) bool {
	log := s.logger.WithField("channel", loop.cfg.ID)

	switch loop.cfg.Baseline {
	case "forward-backlog":
		if err := s.store.MarkChannelInitialized(ctx, loop.cfg.ID, nil); err != nil {
			log.WithError(err).Error("Baseline initialization failed")
			return false
		}
		loop.mu.Lock()
		loop.watermark.Initialized = true
		loop.mu.Unlock()
		log.WithField("backlog", len(records)).Info("Channel initialized, forwarding backlog")
	default: // skip-backlog
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.MessageID)
		}
		if err := s.store.MarkChannelInitialized(ctx, loop.cfg.ID, ids); err != nil {
			log.WithError(err).Error("Baseline initialization failed")
			return false
		}
		loop.mu.Lock()
		loop.watermark.Initialized = true
		for _, id := range ids {
			loop.watermark.Add(id)
		}
		loop.mu.Unlock()
		log.WithField("skipped", len(ids)).Info("Channel initialized, backlog skipped")
	}
	return false
}

func toMessageRecords(channelID string, raw []reader.Record) []models.MessageRecord {
	records := make([]models.MessageRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, models.MessageRecord{
			ChannelID:   channelID,
			MessageID:   r.ID,
			Author:      r.Author,
			Body:        r.Body,
			Attachments: r.Attachments,
			ObservedAt:  r.ObservedAt,
		})
	}
	return records
}
