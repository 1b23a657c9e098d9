package behavior

import (
	"context"

	"github.com/eraflo/FallGuys/logging"
)

const (
	// EventResolved is emitted once per entity when its behavior definition is resolved at spawn.
	EventResolved logging.EventType = "behavior.resolved"
	// EventOverrideDropped is emitted when a placement override cannot be applied.
	EventOverrideDropped logging.EventType = "behavior.override_dropped"
	// EventEntityDisabled is emitted when a misconfigured entity is made inert.
	EventEntityDisabled logging.EventType = "behavior.entity_disabled"
	// EventReleaseFailed is emitted when destroying an entity fails to release resources.
	EventReleaseFailed logging.EventType = "behavior.release_failed"
)

// ResolvedPayload summarises a resolved behavior.
type ResolvedPayload struct {
	LogicKey   string `json:"logicKey"`
	Kind       string `json:"kind"`
	Parameters int    `json:"parameters"`
	Overrides  int    `json:"overrides"`
}

// OverrideDroppedPayload describes a dropped override record.
type OverrideDroppedPayload struct {
	LogicKey string `json:"logicKey"`
	Name     string `json:"name"`
	TypeTag  string `json:"typeTag"`
	Value    string `json:"value"`
	Reason   string `json:"reason"`
}

// EntityDisabledPayload names why an entity became inert.
type EntityDisabledPayload struct {
	LogicKey string `json:"logicKey,omitempty"`
	Reason   string `json:"reason"`
}

// ReleaseFailedPayload carries the joined release error.
type ReleaseFailedPayload struct {
	Error string `json:"error"`
}

// Resolved publishes a behavior resolution event.
func Resolved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ResolvedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResolved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBehavior,
		Payload:  payload,
		Extra:    extra,
	})
}

// OverrideDropped publishes a warning for an unusable override. Overrides
// naming unknown fields are reported at debug level.
func OverrideDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload OverrideDroppedPayload, severity logging.Severity, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventOverrideDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryBehavior,
		Payload:  payload,
		Extra:    extra,
	})
}

// EntityDisabled publishes an error for an entity made inert by misconfiguration.
func EntityDisabled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityDisabledPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityDisabled,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryBehavior,
		Payload:  payload,
		Extra:    extra,
	})
}

// ReleaseFailed publishes a warning for resources that failed to release on destroy.
func ReleaseFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ReleaseFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventReleaseFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryBehavior,
		Payload:  payload,
		Extra:    extra,
	})
}
