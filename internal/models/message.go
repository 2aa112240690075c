package models

import (
	"strconv"
	"time"
)

// MessageRecord is the canonical unit moved through the relay pipeline.
// MessageID is unique within ChannelID and monotonically orderable; two reads
// of the same underlying message yield the same MessageID.
type MessageRecord struct {
	ChannelID   string    `json:"channel_id"`
	MessageID   string    `json:"message_id"`
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// CompareMessageIDs orders two message identifiers. Numeric identifiers
// (snowflakes) compare numerically; everything else falls back to
// length-then-lexicographic so zero-padded ids still order correctly.
func CompareMessageIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
