// internal/transport/subjects.go
package transport

import (
	"fmt"
	"strings"
)

// Wildcard subscription patterns, scoped by plant and machine.
const (
	TelemetryWildcard = "factory.*.machine.*.telemetry"
	AckWildcard       = "factory.*.machine.*.control.ack"
	StatusWildcard    = "factory.*.machine.*.status"
)

// Message kinds carried in the subject.
const (
	KindTelemetry = "telemetry"
	KindControl   = "control"
	KindStatus    = "status"
	SubkindAck    = "ack"
)

// ControlSubject is the subject devices listen on for commands.
func ControlSubject(plant, machineID string) string {
	return fmt.Sprintf("factory.%s.machine.%s.control", plant, machineID)
}

// TelemetrySubject is where a device publishes its readings.
func TelemetrySubject(plant, machineID string) string {
	return fmt.Sprintf("factory.%s.machine.%s.telemetry", plant, machineID)
}

// AckSubject is where a device acknowledges a control message.
func AckSubject(plant, machineID string) string {
	return fmt.Sprintf("factory.%s.machine.%s.control.ack", plant, machineID)
}

// StatusSubject is where a device reports its own state.
func StatusSubject(plant, machineID string) string {
	return fmt.Sprintf("factory.%s.machine.%s.status", plant, machineID)
}

// Subject is a parsed transport subject.
type Subject struct {
	Plant     string
	MachineID string
	Kind      string
	Subkind   string
}

// ParseSubject splits a subject of the shape
// factory.<plant>.machine.<machineId>.<kind>[.<subkind>] into its parts.
func ParseSubject(subject string) (Subject, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 5 || len(parts) > 6 || parts[0] != "factory" || parts[2] != "machine" {
		return Subject{}, fmt.Errorf("malformed subject %q", subject)
	}
	s := Subject{Plant: parts[1], MachineID: parts[3], Kind: parts[4]}
	if len(parts) == 6 {
		s.Subkind = parts[5]
	}
	if s.Plant == "" || s.MachineID == "" {
		return Subject{}, fmt.Errorf("malformed subject %q", subject)
	}
	switch {
	case s.Kind == KindTelemetry && s.Subkind == "",
		s.Kind == KindStatus && s.Subkind == "",
		s.Kind == KindControl && s.Subkind == SubkindAck,
		s.Kind == KindControl && s.Subkind == "":
		return s, nil
	}
	return Subject{}, fmt.Errorf("unknown subject kind %q", subject)
}
