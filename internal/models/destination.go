package models

// SenderKind identifies the delivery mechanism behind a destination.
type SenderKind string

const (
	SenderKindPersonal SenderKind = "personal-relay"
	SenderKindWebhook  SenderKind = "group-webhook"
	SenderKindKafka    SenderKind = "kafka"
)

// Destination is a configured target that receives forwarded messages.
// Target is a contact name for personal-relay, a webhook URL for
// group-webhook, or a topic name for kafka. Destinations are owned by the
// router configuration; multiple channels may share one destination.
type Destination struct {
	Name   string     `json:"name"`
	Kind   SenderKind `json:"kind"`
	Target string     `json:"target"`
}

// DeliveryStatus is the terminal or in-flight state of one record/destination pair.
type DeliveryStatus string

const (
	DeliveryStatusPending         DeliveryStatus = "pending"
	DeliveryStatusDelivered       DeliveryStatus = "delivered"
	DeliveryStatusFailedPermanent DeliveryStatus = "failed-permanent"
)

// Terminal reports whether the status ends the retry loop for this pair.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailedPermanent
}

// DeliveryAttempt tracks one record/destination pair for the duration of a
// delivery cycle. It is never persisted; the watermark commit that follows
// resolution is the only durable side effect.
type DeliveryAttempt struct {
	Record       *MessageRecord
	Destination  Destination
	AttemptCount int
	LastError    error
	Status       DeliveryStatus
}
