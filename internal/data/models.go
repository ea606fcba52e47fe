// internal/data/models.go
package data

import (
	"time"

	"factory-control-core/internal/machine"
	"factory-control-core/internal/rules"
)

// TelemetryReading is one sensor reading attributed to a machine. Produced
// by the router for every telemetry message, evaluated once, persisted
// externally, and not retained in memory afterwards.
type TelemetryReading struct {
	MachineID   string    `json:"machineId"`
	PlantID     string    `json:"plantId"`
	Timestamp   time.Time `json:"ts"`
	Temperature float64   `json:"temp"`
	Vibration   float64   `json:"vibration"`
	Power       float64   `json:"power"`
	Raw         []byte    `json:"-"`
}

// ControlMessage is published to a device's control subject.
type ControlMessage struct {
	ReqID    string          `json:"reqId"`
	Cmd      machine.Command `json:"cmd"`
	Reason   string          `json:"reason,omitempty"`
	Alerts   []rules.Alert   `json:"alerts,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Role     string          `json:"role,omitempty"`
	TS       time.Time       `json:"timestamp"`
}

// AckMessage is a device's acknowledgement of a control message.
type AckMessage struct {
	ReqID  string `json:"reqId"`
	Status string `json:"status"`
}

// StatusMessage is a device's self-reported state.
type StatusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
