// internal/events/events.go
package events

// Outward domain event types, consumed by the realtime push layer.
const (
	TypeTelemetry          = "telemetry"
	TypeMachineEvaluation  = "machine_evaluation"
	TypeAlert              = "alert"
	TypeCommandAck         = "commandAck"
	TypeCommandTimeout     = "command_timeout"
	TypeStatus             = "status"
	TypeMachineStateUpdate = "machine_state_update"
	TypeInitialStates      = "initial_states"
)

// Emitter publishes domain events outward. Emission is fire-and-forget;
// implementations must not block the caller.
type Emitter interface {
	Emit(eventType string, payload any)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(eventType string, payload any)

func (f EmitterFunc) Emit(eventType string, payload any) { f(eventType, payload) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(string, any) {})
