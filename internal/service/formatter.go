package service

import (
	"fmt"
	"strings"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"
	"chanrelay/pkg/sender"
)

// Formatter renders a message record into the payload shape a destination
// kind expects. Attachments are always rendered as links; media is never
// re-encoded or embedded.
type Formatter struct {
	location *time.Location
}

func NewFormatter(timezone string) (*Formatter, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return &Formatter{location: loc}, nil
}

// Format builds the destination payload for one record.
func (f *Formatter) Format(rec models.MessageRecord, channelName string, dest models.Destination) sender.Payload {
	payload := sender.Payload{
		ChannelID:   rec.ChannelID,
		ChannelName: channelName,
		MessageID:   rec.MessageID,
		Author:      rec.Author,
	}

	switch dest.Kind {
	case models.SenderKindWebhook:
		payload.Body = f.formatMarkdown(rec, channelName)
	case models.SenderKindPersonal:
		payload.Body = f.formatPlain(rec, channelName)
	default:
		// Structured destinations carry the raw body; truncation is a
		// human-surface concern.
		payload.Body = rec.Body
	}

	return payload
}

func (f *Formatter) formatMarkdown(rec models.MessageRecord, channelName string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("**[%s]** %s · %s\n",
		channelName,
		rec.Author,
		rec.ObservedAt.In(f.location).Format("2006-01-02 15:04:05"),
	))
	sb.WriteString(truncate(rec.Body, constants.WebhookBodyRuneLimit))

	for i, uri := range rec.Attachments {
		sb.WriteString(fmt.Sprintf("\n[attachment %d](%s)", i+1, uri))
	}

	return sb.String()
}

func (f *Formatter) formatPlain(rec models.MessageRecord, channelName string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s (%s)\n",
		channelName,
		rec.Author,
		rec.ObservedAt.In(f.location).Format("15:04:05"),
	))
	sb.WriteString(truncate(rec.Body, constants.PersonalBodyRuneLimit))

	for _, uri := range rec.Attachments {
		sb.WriteString("\n" + uri)
	}

	return sb.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
