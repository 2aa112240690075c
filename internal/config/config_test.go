package config

import (
	"encoding/json"
	"os"
	"testing"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes cfg into a temp working directory and returns a relative
// path, since absolute config paths are rejected by path validation.
func writeConfig(t *testing.T, cfg map[string]interface{}) string {
	t.Helper()
	t.Chdir(t.TempDir())

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile("config.json", data, 0600))
	return "config.json"
}

func validConfig() map[string]interface{} {
	return map[string]interface{}{
		"channels": []map[string]interface{}{
			{"id": "chan-1", "name": "General"},
		},
		"sender_type":     "group-webhook",
		"webhook_targets": []string{"https://hooks.example.com/a"},
		"reader": map[string]interface{}{
			"base_url": "http://localhost:9000",
		},
		"database": map[string]interface{}{
			"path": "data/chanrelay.db",
		},
	}
}

func TestLoadConfigValid(t *testing.T) {
	path := writeConfig(t, validConfig())

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Channels, 1)
	assert.Equal(t, "group-webhook", cfg.SenderType)
	// Unspecified knobs are filled with defaults.
	assert.Equal(t, constants.DefaultCheckIntervalSec, cfg.CheckIntervalSec)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, constants.DefaultPollLimit, cfg.Reader.PollLimit)
	assert.Equal(t, constants.DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, "UTC", cfg.Timezone)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := LoadConfig("missing.json")
	assert.Error(t, err)
}

func TestLoadConfigRejectsTraversalPath(t *testing.T) {
	_, err := LoadConfig("../../etc/passwd")
	assert.ErrorContains(t, err, "invalid config path")
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("config.json", []byte("{not json"), 0600))

	_, err := LoadConfig("config.json")
	assert.Error(t, err)
}

func TestLoadConfigNoChannels(t *testing.T) {
	cfg := validConfig()
	cfg["channels"] = []map[string]interface{}{}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorIs(t, err, ErrMissingChannels)
}

func TestLoadConfigMissingReaderURL(t *testing.T) {
	cfg := validConfig()
	cfg["reader"] = map[string]interface{}{}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorIs(t, err, ErrMissingReaderURL)
}

func TestLoadConfigMissingDatabasePath(t *testing.T) {
	cfg := validConfig()
	cfg["database"] = map[string]interface{}{}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfigRedisDriverRequiresAddr(t *testing.T) {
	cfg := validConfig()
	cfg["database"] = map[string]interface{}{"driver": "redis"}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "redis_addr")
}

func TestLoadConfigDuplicateChannelIDs(t *testing.T) {
	cfg := validConfig()
	cfg["channels"] = []map[string]interface{}{
		{"id": "chan-1"},
		{"id": "chan-1"},
	}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "duplicate channel id")
}

func TestLoadConfigInvalidBaseline(t *testing.T) {
	cfg := validConfig()
	cfg["channels"] = []map[string]interface{}{
		{"id": "chan-1", "baseline": "replay-everything"},
	}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "invalid baseline")
}

func TestLoadConfigInvalidSenderType(t *testing.T) {
	cfg := validConfig()
	cfg["sender_type"] = "carrier-pigeon"

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "unsupported sender_type")
}

func TestLoadConfigWebhookSenderWithoutTargets(t *testing.T) {
	cfg := validConfig()
	cfg["webhook_targets"] = []string{}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "webhook_targets is empty")
}

func TestLoadConfigPersonalSenderRequiresRelay(t *testing.T) {
	cfg := validConfig()
	cfg["sender_type"] = "personal-relay"
	cfg["personal_relay_target"] = "filehelper"

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "personal_relay.base_url")
}

func TestLoadConfigExplicitDestinationValidation(t *testing.T) {
	cfg := validConfig()
	cfg["channels"] = []map[string]interface{}{
		{
			"id": "chan-1",
			"destinations": []map[string]interface{}{
				{"kind": "group-webhook", "target": ""},
			},
		},
	}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "empty target")
}

func TestLoadConfigExplicitDestinationNeedsBackingSender(t *testing.T) {
	cfg := validConfig()
	cfg["channels"] = []map[string]interface{}{
		{
			"id": "chan-1",
			"destinations": []map[string]interface{}{
				{"kind": "personal-relay", "target": "Bob"},
			},
		},
	}

	// No personal_relay.base_url configured: the destination could never be
	// delivered to, so loading must fail instead of dropping records later.
	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "personal_relay.base_url")

	cfg["personal_relay"] = map[string]interface{}{"base_url": "http://relay.local"}
	_, err = LoadConfig(writeConfig(t, cfg))
	assert.NoError(t, err)
}

func TestLoadConfigKafkaDestinationNeedsBrokers(t *testing.T) {
	cfg := validConfig()
	cfg["channels"] = []map[string]interface{}{
		{
			"id": "chan-1",
			"destinations": []map[string]interface{}{
				{"kind": "kafka", "target": "relay.events"},
			},
		},
	}

	_, err := LoadConfig(writeConfig(t, cfg))
	assert.ErrorContains(t, err, "kafka.brokers")

	cfg["kafka"] = map[string]interface{}{"brokers": []string{"localhost:9092"}}
	_, err = LoadConfig(writeConfig(t, cfg))
	assert.NoError(t, err)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHANRELAY_READER_URL", "http://gateway.internal:9000")
	t.Setenv("CHANRELAY_WEBHOOK_TARGETS", "https://hooks.example.com/x, https://hooks.example.com/y")

	cfg, err := LoadConfig(writeConfig(t, validConfig()))
	require.NoError(t, err)

	assert.Equal(t, "http://gateway.internal:9000", cfg.Reader.BaseURL)
	assert.Equal(t, []string{"https://hooks.example.com/x", "https://hooks.example.com/y"}, cfg.WebhookTargets)
}

func TestLoadConfigDefaultsSenderType(t *testing.T) {
	cfg := validConfig()
	delete(cfg, "sender_type")

	loaded, err := LoadConfig(writeConfig(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, string(models.SenderKindWebhook), loaded.SenderType)
}
