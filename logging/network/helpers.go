package network

import (
	"context"

	"github.com/eraflo/FallGuys/logging"
)

const (
	// EventSubscriberJoined is emitted when a participant subscribes to replication.
	EventSubscriberJoined logging.EventType = "network.subscriber_joined"
	// EventSubscriberLeft is emitted when a subscriber disconnects.
	EventSubscriberLeft logging.EventType = "network.subscriber_left"
	// EventIntentRejected is emitted when an inbound intent cannot be queued.
	EventIntentRejected logging.EventType = "network.intent_rejected"
	// EventUpdateDropped is emitted when a client discards a stale replicated update.
	EventUpdateDropped logging.EventType = "network.update_dropped"
)

// SubscriberPayload describes a subscriber transition.
type SubscriberPayload struct {
	Entities int    `json:"entities"`
	Reason   string `json:"reason,omitempty"`
}

// IntentRejectedPayload captures a rejected intent.
type IntentRejectedPayload struct {
	Entity string `json:"entity"`
	Kind   string `json:"kind"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
}

// UpdateDroppedPayload captures a stale or duplicate update.
type UpdateDroppedPayload struct {
	Seq     uint64 `json:"seq"`
	Applied uint64 `json:"applied"`
}

// SubscriberJoined publishes a subscriber join event.
func SubscriberJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SubscriberPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSubscriberJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// SubscriberLeft publishes a subscriber disconnect event.
func SubscriberLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SubscriberPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSubscriberLeft,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// IntentRejected publishes a warning when an intent is refused.
func IntentRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload IntentRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventIntentRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// UpdateDropped publishes a debug event when a stale update is discarded.
func UpdateDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload UpdateDroppedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventUpdateDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
