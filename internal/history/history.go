// internal/history/history.go
package history

import (
	"context"
	"time"

	"factory-control-core/internal/data"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/rules"
)

// ConditionRecord is one evaluated telemetry reading.
type ConditionRecord struct {
	MachineID string                `json:"machineId"`
	PlantID   string                `json:"plantId"`
	Timestamp time.Time             `json:"timestamp"`
	Telemetry data.TelemetryReading `json:"telemetry"`
	Verdict   rules.Verdict         `json:"evaluation"`
}

// AutoActionRecord logs a system-issued safety command.
type AutoActionRecord struct {
	MachineID string        `json:"machineId"`
	PlantID   string        `json:"plantId"`
	Action    string        `json:"action"`
	Reason    string        `json:"reason"`
	Alerts    []rules.Alert `json:"alerts"`
	ReqID     string        `json:"reqId"`
	Timestamp time.Time     `json:"timestamp"`
}

// MaintenanceTicket is a preventive maintenance request.
type MaintenanceTicket struct {
	MachineID string        `json:"machineId"`
	PlantID   string        `json:"plantId"`
	Type      string        `json:"type"`
	Reason    string        `json:"reason"`
	Priority  string        `json:"priority"`
	Status    string        `json:"status"`
	Alerts    []rules.Alert `json:"alerts"`
	Created   time.Time     `json:"created"`
}

// CommandRecord logs a manual command dispatch.
type CommandRecord struct {
	MachineID     string          `json:"machineId"`
	PlantID       string          `json:"plantId"`
	Command       machine.Command `json:"command"`
	Operator      string          `json:"operator"`
	Role          string          `json:"userRole"`
	ReqID         string          `json:"reqId"`
	Timestamp     time.Time       `json:"timestamp"`
	PreviousState machine.State   `json:"previousState"`
	NewState      machine.State   `json:"newState"`
}

// Store is the external history collaborator: append-only audit records plus
// the machine registry read once at startup. The core never blocks on it;
// write failures are logged and swallowed by callers.
type Store interface {
	SaveTelemetry(ctx context.Context, reading data.TelemetryReading) error
	SaveCondition(ctx context.Context, rec ConditionRecord) error
	SaveAutoAction(ctx context.Context, rec AutoActionRecord) error
	SaveMaintenanceTicket(ctx context.Context, ticket MaintenanceTicket) error
	SaveCommand(ctx context.Context, rec CommandRecord) error

	ListMachines(ctx context.Context) ([]machine.Info, error)
	RecentTelemetry(ctx context.Context, machineID string, limit int) ([]data.TelemetryReading, error)
	RecentConditions(ctx context.Context, machineID string, limit int) ([]ConditionRecord, error)
}

// Nop discards every record; used when history is disabled and in tests.
type Nop struct{}

func (Nop) SaveTelemetry(context.Context, data.TelemetryReading) error     { return nil }
func (Nop) SaveCondition(context.Context, ConditionRecord) error           { return nil }
func (Nop) SaveAutoAction(context.Context, AutoActionRecord) error         { return nil }
func (Nop) SaveMaintenanceTicket(context.Context, MaintenanceTicket) error { return nil }
func (Nop) SaveCommand(context.Context, CommandRecord) error               { return nil }
func (Nop) ListMachines(context.Context) ([]machine.Info, error)           { return nil, nil }
func (Nop) RecentTelemetry(context.Context, string, int) ([]data.TelemetryReading, error) {
	return nil, nil
}
func (Nop) RecentConditions(context.Context, string, int) ([]ConditionRecord, error) {
	return nil, nil
}
