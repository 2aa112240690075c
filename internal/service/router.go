package service

import (
	"fmt"
	"sync"

	"chanrelay/internal/models"
)

// Router maps each source channel to its ordered destinations. The mapping is
// static, derived from configuration at startup, and total: a channel without
// at least one destination is a construction error, not a runtime condition.
type Router struct {
	routes       map[string][]models.Destination
	names        map[string]string // channel id -> display name
	orderedIDs   []string
	destinations int
	mu           sync.RWMutex
}

// NewRouter builds the channel→destination mapping from configuration.
func NewRouter(cfg *models.Config) (*Router, error) {
	r := &Router{
		routes: make(map[string][]models.Destination),
		names:  make(map[string]string),
	}

	for _, channel := range cfg.Channels {
		if channel.ID == "" {
			return nil, fmt.Errorf("empty channel id in router configuration")
		}
		if _, exists := r.routes[channel.ID]; exists {
			return nil, fmt.Errorf("duplicate channel id: %s", channel.ID)
		}

		dests, err := resolveDestinations(cfg, channel)
		if err != nil {
			return nil, err
		}
		if len(dests) == 0 {
			return nil, fmt.Errorf("channel %s has no destinations", channel.ID)
		}

		r.routes[channel.ID] = dests
		name := channel.Name
		if name == "" {
			name = channel.ID
		}
		r.names[channel.ID] = name
		r.orderedIDs = append(r.orderedIDs, channel.ID)
		r.destinations += len(dests)
	}

	if len(r.routes) == 0 {
		return nil, fmt.Errorf("no channels configured")
	}

	return r, nil
}

func resolveDestinations(cfg *models.Config, channel models.ChannelConfig) ([]models.Destination, error) {
	if len(channel.Destinations) > 0 {
		dests := make([]models.Destination, 0, len(channel.Destinations))
		for i, dc := range channel.Destinations {
			name := dc.Name
			if name == "" {
				name = fmt.Sprintf("%s-%s-%d", channel.ID, dc.Kind, i)
			}
			dests = append(dests, models.Destination{
				Name:   name,
				Kind:   models.SenderKind(dc.Kind),
				Target: dc.Target,
			})
		}
		return dests, nil
	}

	switch models.SenderKind(cfg.SenderType) {
	case models.SenderKindWebhook:
		if hook, ok := cfg.WebhookOverrides[channel.ID]; ok {
			return []models.Destination{{
				Name:   channel.ID + "-webhook",
				Kind:   models.SenderKindWebhook,
				Target: hook,
			}}, nil
		}
		dests := make([]models.Destination, 0, len(cfg.WebhookTargets))
		for i, hook := range cfg.WebhookTargets {
			dests = append(dests, models.Destination{
				Name:   fmt.Sprintf("webhook-%d", i+1),
				Kind:   models.SenderKindWebhook,
				Target: hook,
			})
		}
		return dests, nil
	case models.SenderKindPersonal:
		return []models.Destination{{
			Name:   "personal-relay",
			Kind:   models.SenderKindPersonal,
			Target: cfg.PersonalRelayTarget,
		}}, nil
	case models.SenderKindKafka:
		return []models.Destination{{
			Name:   "kafka-default",
			Kind:   models.SenderKindKafka,
			Target: defaultKafkaTopic,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported sender_type: %s", cfg.SenderType)
	}
}

const defaultKafkaTopic = "chanrelay.messages"

// DestinationsFor returns the ordered destinations for a channel.
func (r *Router) DestinationsFor(channelID string) ([]models.Destination, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dests, exists := r.routes[channelID]
	if !exists {
		return nil, fmt.Errorf("no destinations configured for channel: %s", channelID)
	}
	return dests, nil
}

// ChannelName returns the display name for a channel id.
func (r *Router) ChannelName(channelID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.names[channelID]; ok {
		return name
	}
	return channelID
}

// ChannelIDs returns the configured channel ids in configuration order.
func (r *Router) ChannelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.orderedIDs))
	copy(out, r.orderedIDs)
	return out
}

// DestinationCount returns the total number of configured destinations.
func (r *Router) DestinationCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.destinations
}
