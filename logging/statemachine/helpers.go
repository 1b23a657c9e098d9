package statemachine

import (
	"context"

	"github.com/eraflo/FallGuys/logging"
)

const (
	// EventStateEntered is emitted after a state's enter hooks ran.
	EventStateEntered logging.EventType = "statemachine.state_entered"
	// EventStateExited is emitted after a state's exit hooks ran.
	EventStateExited logging.EventType = "statemachine.state_exited"
	// EventChangeRejected is emitted when a participant without authority asks for a state change.
	EventChangeRejected logging.EventType = "statemachine.change_rejected"
	// EventConfigError is emitted for misconfigured tables and transitions.
	EventConfigError logging.EventType = "statemachine.config_error"
	// EventActionReceived is emitted when an action intent reaches the active state.
	EventActionReceived logging.EventType = "statemachine.action_received"
	// EventStateRequested is emitted when the server applies a client state request.
	EventStateRequested logging.EventType = "statemachine.state_requested"
)

// StatePayload identifies a state within its table.
type StatePayload struct {
	Table string `json:"table"`
	ID    int32  `json:"id"`
	Name  string `json:"name"`
	// Previous is the id that was active before the switch.
	Previous int32 `json:"previous"`
}

// ChangeRejectedPayload describes a rejected state change.
type ChangeRejectedPayload struct {
	Requested int32  `json:"requested"`
	Current   int32  `json:"current"`
	Role      string `json:"role"`
	Reason    string `json:"reason"`
}

// ConfigErrorPayload names the invalid reference.
type ConfigErrorPayload struct {
	Table     string `json:"table"`
	State     string `json:"state,omitempty"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason"`
}

// ActionPayload describes an action intent.
type ActionPayload struct {
	State   string `json:"state,omitempty"`
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Dropped bool   `json:"dropped,omitempty"`
}

// StateRequestedPayload describes a client-originated state request.
type StateRequestedPayload struct {
	Requested int32  `json:"requested"`
	Current   int32  `json:"current"`
	Origin    string `json:"origin,omitempty"`
	Applied   bool   `json:"applied"`
}

// StateEntered publishes a state enter event.
func StateEntered(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StatePayload, extra map[string]any) {
	publish(ctx, pub, EventStateEntered, logging.SeverityDebug, tick, actor, payload, extra)
}

// StateExited publishes a state exit event.
func StateExited(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StatePayload, extra map[string]any) {
	publish(ctx, pub, EventStateExited, logging.SeverityDebug, tick, actor, payload, extra)
}

// ChangeRejected publishes a warning for an authority violation.
func ChangeRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ChangeRejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventChangeRejected, logging.SeverityWarn, tick, actor, payload, extra)
}

// ConfigError publishes a configuration error.
func ConfigError(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ConfigErrorPayload, extra map[string]any) {
	publish(ctx, pub, EventConfigError, logging.SeverityError, tick, actor, payload, extra)
}

// ActionReceived publishes an action delivery. Dropped actions are debug level.
func ActionReceived(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ActionPayload, extra map[string]any) {
	severity := logging.SeverityInfo
	if payload.Dropped {
		severity = logging.SeverityDebug
	}
	publish(ctx, pub, EventActionReceived, severity, tick, actor, payload, extra)
}

// StateRequested publishes a warning whenever the authority path is bypassed by a client request.
func StateRequested(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StateRequestedPayload, extra map[string]any) {
	publish(ctx, pub, EventStateRequested, logging.SeverityWarn, tick, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryStateMachine,
		Payload:  payload,
		Extra:    extra,
	})
}
