// internal/control/autoaction.go
package control

import (
	"context"
	"log"
	"time"

	"factory-control-core/internal/command"
	"factory-control-core/internal/history"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/metrics"
	"factory-control-core/internal/rules"
)

// Controller turns evaluation verdicts into automatic safety side effects:
// a system-issued emergency stop for critical verdicts, a maintenance ticket
// for vibration warnings. It never changes machine state directly; state
// changes flow through the dispatcher or the evaluator's store update.
type Controller struct {
	dispatcher *command.Dispatcher
	history    history.Store
	metrics    *metrics.Metrics
}

func NewController(d *command.Dispatcher, hist history.Store, m *metrics.Metrics) *Controller {
	return &Controller{dispatcher: d, history: hist, metrics: m}
}

// OnVerdict applies the automatic action a verdict calls for. History
// failures are logged and do not block the safety action.
func (c *Controller) OnVerdict(ctx context.Context, machineID, plantID string, verdict rules.Verdict) {
	switch verdict.RecommendedState {
	case machine.StateStopped:
		res, err := c.dispatcher.DispatchSystem(ctx, machineID, plantID,
			machine.CommandEmergencyStop, "Automatic safety shutdown", verdict.Alerts)
		if err != nil {
			log.Printf("Emergency stop dispatch failed for %s: %v", machineID, err)
			return
		}
		log.Printf("Emergency stop initiated for %s", machineID)
		if err := c.history.SaveAutoAction(ctx, history.AutoActionRecord{
			MachineID: machineID,
			PlantID:   plantID,
			Action:    string(machine.CommandEmergencyStop),
			Reason:    "Critical condition detected",
			Alerts:    verdict.Alerts,
			ReqID:     res.ReqID,
			Timestamp: time.Now(),
		}); err != nil {
			c.metrics.HistoryWriteFailures.Inc()
			log.Printf("history write failed for auto action on %s: %v", machineID, err)
		}

	case machine.StateMaintenance:
		if err := c.history.SaveMaintenanceTicket(ctx, history.MaintenanceTicket{
			MachineID: machineID,
			PlantID:   plantID,
			Type:      "preventive",
			Reason:    "High vibration detected",
			Priority:  "medium",
			Status:    "pending",
			Alerts:    verdict.Alerts,
			Created:   time.Now(),
		}); err != nil {
			c.metrics.HistoryWriteFailures.Inc()
			log.Printf("history write failed for maintenance ticket on %s: %v", machineID, err)
			return
		}
		log.Printf("Maintenance scheduled for %s", machineID)
	}
}
