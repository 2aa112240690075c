package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"
	"chanrelay/internal/security"
)

var (
	ErrMissingChannels  = models.ConfigError{Message: "channels array is required and must contain at least one channel"}
	ErrMissingReaderURL = models.ConfigError{Message: "missing reader gateway base URL"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if len(c.Channels) == 0 {
		return ErrMissingChannels
	}
	if c.Reader.BaseURL == "" {
		return ErrMissingReaderURL
	}
	if (c.Database.Driver == "" || c.Database.Driver == "sqlite" || c.Database.Driver == "pebble") && c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Database.Driver == "redis" && c.Database.RedisAddr == "" {
		return models.ConfigError{Message: "redis driver requires database.redis_addr"}
	}

	if c.SenderType == "" {
		c.SenderType = string(models.SenderKindWebhook)
	}
	switch models.SenderKind(c.SenderType) {
	case models.SenderKindWebhook, models.SenderKindPersonal, models.SenderKindKafka:
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported sender_type: %s", c.SenderType)}
	}

	seen := make(map[string]bool)
	for i, channel := range c.Channels {
		if channel.ID == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty channel id in channel %d", i)}
		}
		if seen[channel.ID] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate channel id: %s", channel.ID)}
		}
		seen[channel.ID] = true

		switch channel.Baseline {
		case "", "skip-backlog", "forward-backlog":
		default:
			return models.ConfigError{Message: fmt.Sprintf("invalid baseline %q for channel %s", channel.Baseline, channel.ID)}
		}

		// Every channel must resolve to at least one destination; this is a
		// startup failure, never a runtime one.
		if err := validateChannelDestinations(c, i, channel); err != nil {
			return err
		}
	}

	applyDefaults(c)
	return nil
}

func validateChannelDestinations(c *models.Config, idx int, channel models.ChannelConfig) error {
	if len(channel.Destinations) > 0 {
		for j, dest := range channel.Destinations {
			// A destination kind without its backing sender configuration
			// would silently fail every record at runtime; reject it here.
			switch models.SenderKind(dest.Kind) {
			case models.SenderKindWebhook:
			case models.SenderKindPersonal:
				if c.PersonalRelay.BaseURL == "" {
					return models.ConfigError{Message: fmt.Sprintf("destination %d of channel %s uses personal-relay but personal_relay.base_url is empty", j, channel.ID)}
				}
			case models.SenderKindKafka:
				if len(c.Kafka.Brokers) == 0 {
					return models.ConfigError{Message: fmt.Sprintf("destination %d of channel %s uses kafka but kafka.brokers is empty", j, channel.ID)}
				}
			default:
				return models.ConfigError{Message: fmt.Sprintf("unsupported destination kind %q in channel %s", dest.Kind, channel.ID)}
			}
			if dest.Target == "" {
				return models.ConfigError{Message: fmt.Sprintf("empty target in destination %d of channel %s", j, channel.ID)}
			}
		}
		return nil
	}

	// No explicit destinations: the default sender_type must provide some.
	switch models.SenderKind(c.SenderType) {
	case models.SenderKindWebhook:
		if _, ok := c.WebhookOverrides[channel.ID]; ok {
			return nil
		}
		if len(c.WebhookTargets) == 0 {
			return models.ConfigError{Message: fmt.Sprintf("channel %s has no destination: webhook_targets is empty (channel %d)", channel.ID, idx)}
		}
	case models.SenderKindPersonal:
		if c.PersonalRelayTarget == "" {
			return models.ConfigError{Message: fmt.Sprintf("channel %s has no destination: personal_relay_target is empty", channel.ID)}
		}
		if c.PersonalRelay.BaseURL == "" {
			return models.ConfigError{Message: "personal-relay sender requires personal_relay.base_url"}
		}
	case models.SenderKindKafka:
		if len(c.Kafka.Brokers) == 0 {
			return models.ConfigError{Message: "kafka sender requires kafka.brokers"}
		}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.CheckIntervalSec <= 0 {
		c.CheckIntervalSec = constants.DefaultCheckIntervalSec
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.MaxConcurrentPolls <= 0 {
		c.MaxConcurrentPolls = constants.DefaultMaxConcurrentPolls
	}
	if c.GracefulShutdownSec <= 0 {
		c.GracefulShutdownSec = constants.DefaultGracefulShutdownSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Retry.MaxTotalWaitMs <= 0 {
		c.Retry.MaxTotalWaitMs = constants.DefaultMaxTotalWaitMs
	}
	if c.Reader.PollTimeoutSec <= 0 {
		c.Reader.PollTimeoutSec = constants.DefaultPollTimeoutSec
	}
	if c.Reader.PollLimit <= 0 {
		c.Reader.PollLimit = constants.DefaultPollLimit
	}
	if c.Reader.SessionWaitTimeoutSec <= 0 {
		c.Reader.SessionWaitTimeoutSec = constants.DefaultSessionWaitTimeoutSec
	}
	if c.PersonalRelay.TimeoutSec <= 0 {
		c.PersonalRelay.TimeoutSec = constants.DefaultSenderTimeoutSec
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = fmt.Sprintf(":%d", constants.DefaultServerPort)
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CHANRELAY_READER_URL"); url != "" {
		c.Reader.BaseURL = url
	}
	if key := os.Getenv("CHANRELAY_READER_API_KEY"); key != "" {
		c.Reader.APIKey = key
	}
	if path := os.Getenv("CHANRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("CHANRELAY_REDIS_ADDR"); addr != "" {
		c.Database.RedisAddr = addr
	}
	if url := os.Getenv("CHANRELAY_RELAY_URL"); url != "" {
		c.PersonalRelay.BaseURL = url
	}
	if key := os.Getenv("CHANRELAY_RELAY_API_KEY"); key != "" {
		c.PersonalRelay.APIKey = key
	}
	if hooks := os.Getenv("CHANRELAY_WEBHOOK_TARGETS"); hooks != "" {
		var targets []string
		for _, h := range strings.Split(hooks, ",") {
			if h = strings.TrimSpace(h); h != "" {
				targets = append(targets, h)
			}
		}
		if len(targets) > 0 {
			c.WebhookTargets = targets
		}
	}
	if proxy := os.Getenv("CHANRELAY_PROXY"); proxy != "" {
		c.Reader.Proxy = proxy
	}
}
