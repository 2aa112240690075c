package service

import (
	"testing"

	"chanrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookConfig(channels ...models.ChannelConfig) *models.Config {
	return &models.Config{
		Channels:       channels,
		SenderType:     string(models.SenderKindWebhook),
		WebhookTargets: []string{"https://hooks.example.com/a", "https://hooks.example.com/b"},
	}
}

func TestNewRouterDefaultWebhookFanOut(t *testing.T) {
	cfg := webhookConfig(models.ChannelConfig{ID: "chan-1", Name: "General"})

	router, err := NewRouter(cfg)
	require.NoError(t, err)

	dests, err := router.DestinationsFor("chan-1")
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, models.SenderKindWebhook, dests[0].Kind)
	assert.Equal(t, "https://hooks.example.com/a", dests[0].Target)
	assert.Equal(t, "https://hooks.example.com/b", dests[1].Target)

	assert.Equal(t, "General", router.ChannelName("chan-1"))
	assert.Equal(t, 2, router.DestinationCount())
}

func TestNewRouterWebhookOverride(t *testing.T) {
	cfg := webhookConfig(
		models.ChannelConfig{ID: "chan-1"},
		models.ChannelConfig{ID: "chan-2"},
	)
	cfg.WebhookOverrides = map[string]string{
		"chan-2": "https://hooks.example.com/special",
	}

	router, err := NewRouter(cfg)
	require.NoError(t, err)

	dests, err := router.DestinationsFor("chan-2")
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, "https://hooks.example.com/special", dests[0].Target)

	// Non-overridden channel still fans out to all default targets.
	dests, err = router.DestinationsFor("chan-1")
	require.NoError(t, err)
	assert.Len(t, dests, 2)
}

func TestNewRouterExplicitDestinations(t *testing.T) {
	cfg := webhookConfig(models.ChannelConfig{
		ID: "chan-1",
		Destinations: []models.DestinationConfig{
			{Name: "ops-hook", Kind: "group-webhook", Target: "https://hooks.example.com/ops"},
			{Kind: "kafka", Target: "relay.events"},
		},
	})

	router, err := NewRouter(cfg)
	require.NoError(t, err)

	dests, err := router.DestinationsFor("chan-1")
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, "ops-hook", dests[0].Name)
	assert.Equal(t, models.SenderKindKafka, dests[1].Kind)
	assert.Equal(t, "relay.events", dests[1].Target)
}

func TestNewRouterPersonalRelayDefault(t *testing.T) {
	cfg := &models.Config{
		Channels:            []models.ChannelConfig{{ID: "chan-1"}},
		SenderType:          string(models.SenderKindPersonal),
		PersonalRelayTarget: "filehelper",
	}

	router, err := NewRouter(cfg)
	require.NoError(t, err)

	dests, err := router.DestinationsFor("chan-1")
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, models.SenderKindPersonal, dests[0].Kind)
	assert.Equal(t, "filehelper", dests[0].Target)
}

func TestNewRouterRejectsDuplicateChannels(t *testing.T) {
	cfg := webhookConfig(
		models.ChannelConfig{ID: "chan-1"},
		models.ChannelConfig{ID: "chan-1"},
	)

	_, err := NewRouter(cfg)
	assert.ErrorContains(t, err, "duplicate channel id")
}

func TestNewRouterRejectsChannelWithoutDestinations(t *testing.T) {
	cfg := &models.Config{
		Channels:   []models.ChannelConfig{{ID: "chan-1"}},
		SenderType: string(models.SenderKindWebhook),
	}

	_, err := NewRouter(cfg)
	assert.ErrorContains(t, err, "no destinations")
}

func TestRouterDestinationsForUnknownChannel(t *testing.T) {
	router, err := NewRouter(webhookConfig(models.ChannelConfig{ID: "chan-1"}))
	require.NoError(t, err)

	_, err = router.DestinationsFor("chan-unknown")
	assert.Error(t, err)
}

func TestRouterChannelIDsPreservesOrder(t *testing.T) {
	router, err := NewRouter(webhookConfig(
		models.ChannelConfig{ID: "chan-b"},
		models.ChannelConfig{ID: "chan-a"},
		models.ChannelConfig{ID: "chan-c"},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"chan-b", "chan-a", "chan-c"}, router.ChannelIDs())
}
