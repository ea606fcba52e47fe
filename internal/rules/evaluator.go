// internal/rules/evaluator.go
package rules

import (
	"fmt"

	"factory-control-core/internal/machine"
)

// Severity of an alert raised by the evaluator.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// OverallStatus summarizes a verdict for consumers that only care
// whether the machine may keep running.
type OverallStatus string

const (
	StatusHealthy       OverallStatus = "HEALTHY"
	StatusIssueDetected OverallStatus = "ISSUE_DETECTED"
)

// Alert describes one threshold violation.
type Alert struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Verdict is the evaluator's classification of a single telemetry reading.
type Verdict struct {
	Actions          []string      `json:"actions"`
	Alerts           []Alert       `json:"alerts"`
	RecommendedState machine.State `json:"recommendedState"`
	OverallStatus    OverallStatus `json:"overallStatus"`
}

// Control thresholds. Warning starts at the warning bound, critical at the
// critical bound; each metric carries its own corrective action.
const (
	TempWarning  = 85.0
	TempCritical = 95.0

	VibrationWarning  = 2.5
	VibrationCritical = 4.0

	PowerWarning  = 280.0
	PowerCritical = 320.0

	ActionReduceSpeed         = "reduce_speed"
	ActionEmergencyStop       = "emergency_stop"
	ActionScheduleMaintenance = "schedule_maintenance"
	ActionImmediateStop       = "immediate_stop"
	ActionCheckLoad           = "check_load"
	ActionPowerCutoff         = "power_cutoff"
)

// escalate moves a recommended state up the running < maintenance < stopped
// order and never back down.
func escalate(current, proposed machine.State) machine.State {
	if current == machine.StateStopped || proposed == machine.StateStopped {
		return machine.StateStopped
	}
	if current == machine.StateMaintenance || proposed == machine.StateMaintenance {
		return machine.StateMaintenance
	}
	return machine.StateRunning
}

// Evaluate classifies one reading against the control thresholds.
// Pure and deterministic; callers must reject absent or NaN metrics first.
// Metrics are checked in order temperature, vibration, power, and a later
// metric can only escalate the recommended state, never downgrade it.
func Evaluate(temperature, vibration, power float64) Verdict {
	v := Verdict{RecommendedState: machine.StateRunning}

	if temperature >= TempCritical {
		v.Actions = append(v.Actions, ActionEmergencyStop)
		v.Alerts = append(v.Alerts, Alert{SeverityCritical, fmt.Sprintf("Temperature critical: %g°C", temperature)})
		v.RecommendedState = escalate(v.RecommendedState, machine.StateStopped)
	} else if temperature >= TempWarning {
		v.Actions = append(v.Actions, ActionReduceSpeed)
		v.Alerts = append(v.Alerts, Alert{SeverityWarning, fmt.Sprintf("Temperature high: %g°C", temperature)})
	}

	if vibration >= VibrationCritical {
		v.Actions = append(v.Actions, ActionImmediateStop)
		v.Alerts = append(v.Alerts, Alert{SeverityCritical, fmt.Sprintf("Vibration critical: %g", vibration)})
		v.RecommendedState = escalate(v.RecommendedState, machine.StateStopped)
	} else if vibration >= VibrationWarning {
		v.Actions = append(v.Actions, ActionScheduleMaintenance)
		v.Alerts = append(v.Alerts, Alert{SeverityWarning, fmt.Sprintf("Vibration high: %g", vibration)})
		v.RecommendedState = escalate(v.RecommendedState, machine.StateMaintenance)
	}

	if power >= PowerCritical {
		v.Actions = append(v.Actions, ActionPowerCutoff)
		v.Alerts = append(v.Alerts, Alert{SeverityCritical, fmt.Sprintf("Power consumption critical: %gW", power)})
		v.RecommendedState = escalate(v.RecommendedState, machine.StateStopped)
	} else if power >= PowerWarning {
		v.Actions = append(v.Actions, ActionCheckLoad)
		v.Alerts = append(v.Alerts, Alert{SeverityWarning, fmt.Sprintf("Power consumption high: %gW", power)})
	}

	if v.RecommendedState == machine.StateRunning {
		v.OverallStatus = StatusHealthy
	} else {
		v.OverallStatus = StatusIssueDetected
	}
	return v
}
