// internal/machine/machine.go
package machine

// State is the logical operating state of a factory machine.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
	StateMaintenance State = "maintenance"
	StateError       State = "error"
)

// ParseState maps a device-reported status string onto a known State.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateIdle, StateRunning, StateStopped, StateMaintenance, StateError:
		return State(s), true
	}
	return "", false
}

// Command is an operator- or system-issued control verb.
type Command string

const (
	CommandStart           Command = "start"
	CommandStop            Command = "stop"
	CommandMaintenanceMode Command = "maintenance_mode"
	CommandEmergencyStop   Command = "emergency_stop"
)

// TargetState returns the local state a command deterministically produces.
// Unrecognized commands pass through without a state change.
func TargetState(cmd Command) (State, bool) {
	switch cmd {
	case CommandStart:
		return StateRunning, true
	case CommandStop:
		return StateStopped, true
	case CommandMaintenanceMode:
		return StateMaintenance, true
	case CommandEmergencyStop:
		return StateStopped, true
	}
	return "", false
}

// Info describes a machine from the registry.
type Info struct {
	MachineID string `json:"machineId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Location  string `json:"location"`
}
