package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chanrelay/internal/config"
	"chanrelay/internal/constants"
	"chanrelay/internal/database"
	apperrors "chanrelay/internal/errors"
	"chanrelay/internal/metrics"
	"chanrelay/internal/models"
	"chanrelay/internal/retry"
	"chanrelay/internal/service"
	"chanrelay/internal/tracing"
	"chanrelay/pkg/reader"
	"chanrelay/pkg/sender"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("ChanRelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting ChanRelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    "chanrelay",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Tracing shutdown failed")
		}
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Store close failed")
		}
	}()

	readerClient, err := reader.NewClient(reader.ClientConfig{
		BaseURL:        cfg.Reader.BaseURL,
		APIKey:         cfg.Reader.APIKey,
		SessionDataDir: cfg.Reader.SessionDataDir,
		Proxy:          cfg.Reader.Proxy,
		NoProxy:        cfg.Reader.NoProxy,
		Timeout:        time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create reader client: %w", err)
	}

	senders, closeSenders := buildSenders(cfg, logger)
	defer closeSenders()

	if cfg.VerifyOnStart {
		verifySenders(ctx, senders, logger)
	}

	router, err := service.NewRouter(cfg)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	formatter, err := service.NewFormatter(cfg.Timezone)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()

	coordinator := service.NewDeliveryCoordinator(router, senders, formatter, retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		MaxTotalWait: time.Duration(cfg.Retry.MaxTotalWaitMs) * time.Millisecond,
		Jitter:       true,
	}, registry, logger)

	recovery := service.NewSessionRecovery(
		readerClient,
		time.Duration(cfg.Reader.SessionWaitTimeoutSec)*time.Second,
		logger,
	)

	scheduler := service.NewScheduler(cfg, store, readerClient, service.NewDeduplicator(logger), coordinator, recovery, router, registry, logger)

	// Channel loops run on their own context, decoupled from the shutdown
	// signal: on SIGTERM the loops are stopped via Stop(), and in-flight
	// deliveries get the full grace deadline before this context is cancelled.
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()

	if err := scheduler.Start(loopCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	compactor := service.NewCompactor(
		store,
		time.Duration(constants.DefaultCompactIntervalHours)*time.Hour,
		cfg.RetentionDays,
		logger,
	)
	compactor.Start(loopCtx)

	server := newServer(cfg.Server.ListenAddr, scheduler, registry, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run()
	}()

	logger.WithFields(logrus.Fields{
		"channels":     len(cfg.Channels),
		"destinations": router.DestinationCount(),
		"listen":       cfg.Server.ListenAddr,
	}).Info("ChanRelay running")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("Status server failed")
		}
	}

	grace := time.Duration(cfg.GracefulShutdownSec) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		compactor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Graceful shutdown deadline exceeded, cancelling in-flight deliveries")
		loopCancel()
		<-done
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Status server shutdown failed")
	}

	logger.Info("ChanRelay stopped")
	return nil
}

// openStore opens the watermark store, retrying transient open failures so a
// slow-starting redis or a briefly locked database file does not kill the
// process at boot. Configuration errors are not retryable and fail fast.
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (database.Store, error) {
	var store database.Store

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err := backoff.RetryWithPredicate(ctx, func() error {
		var openErr error
		store, openErr = database.New(cfg.Database)
		if openErr != nil {
			logger.WithError(openErr).
				WithField("code", string(apperrors.GetCode(openErr))).
				Warn("Watermark store open failed")
		}
		return openErr
	}, apperrors.IsRetryable)
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark store: %w", err)
	}
	return store, nil
}

// buildSenders constructs one sender per destination kind the configuration
// can route to. The returned func releases any sender-held resources.
func buildSenders(cfg *models.Config, logger *logrus.Logger) (map[models.SenderKind]sender.Sender, func()) {
	senders := make(map[models.SenderKind]sender.Sender)
	senderTimeout := time.Duration(constants.DefaultSenderTimeoutSec) * time.Second

	verifyHooks := make([]string, 0, len(cfg.WebhookTargets)+len(cfg.WebhookOverrides))
	verifyHooks = append(verifyHooks, cfg.WebhookTargets...)
	for _, hook := range cfg.WebhookOverrides {
		verifyHooks = append(verifyHooks, hook)
	}
	if len(verifyHooks) > 0 || kindConfigured(cfg, models.SenderKindWebhook) {
		senders[models.SenderKindWebhook] = sender.NewWebhookSender(senderTimeout, verifyHooks, logger)
	}

	if cfg.PersonalRelay.BaseURL != "" {
		senders[models.SenderKindPersonal] = sender.NewPersonalSender(
			cfg.PersonalRelay.BaseURL,
			cfg.PersonalRelay.APIKey,
			time.Duration(cfg.PersonalRelay.TimeoutSec)*time.Second,
			logger,
		)
	}

	var kafkaSender *sender.KafkaSender
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSender = sender.NewKafkaSender(
			cfg.Kafka.Brokers,
			time.Duration(cfg.Kafka.BatchTimeoutMs)*time.Millisecond,
			logger,
		)
		senders[models.SenderKindKafka] = kafkaSender
	}

	closeFn := func() {
		if kafkaSender != nil {
			if err := kafkaSender.Close(); err != nil {
				logger.WithError(err).Warn("Kafka sender close failed")
			}
		}
	}
	return senders, closeFn
}

// kindConfigured reports whether any channel routes to the given kind, either
// explicitly or through the default sender_type.
func kindConfigured(cfg *models.Config, kind models.SenderKind) bool {
	if models.SenderKind(cfg.SenderType) == kind {
		return true
	}
	for _, channel := range cfg.Channels {
		for _, dest := range channel.Destinations {
			if models.SenderKind(dest.Kind) == kind {
				return true
			}
		}
	}
	return false
}

// verifySenders checks each configured sender at startup. A transient outage
// at boot must not kill the daemon, so failures are logged and the sender is
// left registered; the circuit breaker handles it from there.
func verifySenders(ctx context.Context, senders map[models.SenderKind]sender.Sender, logger *logrus.Logger) {
	for kind, snd := range senders {
		if err := snd.Verify(ctx); err != nil {
			logger.WithError(err).WithField("kind", string(kind)).Warn("Sender verification failed")
			continue
		}
		logger.WithField("kind", string(kind)).Info("Sender verified")
	}
}
