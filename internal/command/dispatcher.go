// internal/command/dispatcher.go
package command

import (
	"context"
	"fmt"
	"log"
	"time"

	"factory-control-core/internal/data"
	"factory-control-core/internal/events"
	"factory-control-core/internal/history"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/metrics"
	"factory-control-core/internal/rules"
	"factory-control-core/internal/state"
	"factory-control-core/internal/transport"
)

// Roles the dispatcher knows about. Authentication resolves them upstream;
// the dispatcher only gates on the resolved string.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
	issuerSystem = "system"
)

// Request is an operator-issued command.
type Request struct {
	MachineID string
	PlantID   string
	Command   machine.Command
	Issuer    string
	Role      string
}

// Result is returned immediately after a successful dispatch; the device
// acknowledgement arrives asynchronously through the router.
type Result struct {
	ReqID    string        `json:"reqId"`
	NewState machine.State `json:"newState"`
	Message  string        `json:"message"`
}

// Dispatcher validates and issues commands. It owns the pending-command
// correlation table and applies the predicted state to the store before the
// transport round-trip completes.
type Dispatcher struct {
	store     *state.Store
	publisher transport.Publisher
	history   history.Store
	events    events.Emitter
	metrics   *metrics.Metrics
	pending   *pendingTable

	// ackTimeout bounds how long a pending command may wait for its ack;
	// zero disables expiry entirely.
	ackTimeout time.Duration
}

// NewDispatcher wires a dispatcher. emitter and hist may be events.Discard /
// history.Nop when those collaborators are absent.
func NewDispatcher(store *state.Store, pub transport.Publisher, hist history.Store, emitter events.Emitter, m *metrics.Metrics, ackTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  pub,
		history:    hist,
		events:     emitter,
		metrics:    m,
		pending:    newPendingTable(),
		ackTimeout: ackTimeout,
	}
}

// Dispatch validates req against the state store, and on success publishes
// the control message, updates the store optimistically, records the pending
// correlation entry, and appends an audit record. It returns without waiting
// for the device acknowledgement.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if err := d.admit(req); err != nil {
		d.metrics.CommandsDispatched.WithLabelValues("rejected").Inc()
		return Result{}, err
	}

	before := d.store.Get(req.MachineID)
	newState := before.CurrentState
	if target, ok := machine.TargetState(req.Command); ok {
		newState = target
		d.store.ApplyCommandResult(req.MachineID, target)
	}

	reqID := newReqID("manual")
	d.pending.add(PendingCommand{
		ReqID:     reqID,
		MachineID: req.MachineID,
		PlantID:   req.PlantID,
		Command:   req.Command,
		Issuer:    req.Issuer,
		IssuedAt:  time.Now(),
		Status:    StatusPending,
	})

	msg := data.ControlMessage{
		ReqID:    reqID,
		Cmd:      req.Command,
		Operator: req.Issuer,
		Role:     req.Role,
		TS:       time.Now(),
	}
	if err := d.publisher.Publish(transport.ControlSubject(req.PlantID, req.MachineID), msg); err != nil {
		// The command never left the process; there is no ack to wait for.
		d.pending.remove(reqID)
		d.metrics.CommandsDispatched.WithLabelValues("publish_error").Inc()
		return Result{}, fmt.Errorf("publish control message: %w", err)
	}

	if err := d.history.SaveCommand(ctx, history.CommandRecord{
		MachineID:     req.MachineID,
		PlantID:       req.PlantID,
		Command:       req.Command,
		Operator:      req.Issuer,
		Role:          req.Role,
		ReqID:         reqID,
		Timestamp:     time.Now(),
		PreviousState: before.CurrentState,
		NewState:      newState,
	}); err != nil {
		d.metrics.HistoryWriteFailures.Inc()
		log.Printf("history write failed for command %s: %v", reqID, err)
	}

	d.metrics.CommandsDispatched.WithLabelValues("accepted").Inc()
	log.Printf("Command %s sent to %s, state updated to %s", req.Command, req.MachineID, newState)
	return Result{
		ReqID:    reqID,
		NewState: newState,
		Message:  fmt.Sprintf("Command %s sent to %s", req.Command, req.MachineID),
	}, nil
}

// admit runs the admission checks in their required order.
func (d *Dispatcher) admit(req Request) error {
	if req.Role == "" {
		return &ValidationError{Reason: "user role is required for machine control"}
	}
	// A machine is addressable once the store tracks it, registry-seeded or
	// created by a device report.
	if !d.store.Has(req.MachineID) {
		return &ValidationError{Reason: fmt.Sprintf("machine %s not found", req.MachineID)}
	}
	st := d.store.Get(req.MachineID)
	if req.Role == RoleViewer {
		return &ValidationError{Reason: "insufficient permissions: viewers cannot control machines"}
	}
	if req.Command == machine.CommandEmergencyStop && req.Role != RoleAdmin && req.Role != RoleOperator {
		return &ValidationError{Reason: "only admins and operators can execute emergency stops"}
	}
	if req.Command == machine.CommandStart && st.LastEvaluation != nil && st.LastEvaluation.OverallStatus == rules.StatusIssueDetected {
		return &ValidationError{Reason: "cannot start machine with detected issues"}
	}
	if req.Command == machine.CommandStop && st.CurrentState == machine.StateStopped {
		return &ValidationError{Reason: "machine is already stopped"}
	}
	return nil
}

// DispatchSystem issues an automatic safety command, bypassing every
// admission check. Automatic safety action is unconditional.
func (d *Dispatcher) DispatchSystem(ctx context.Context, machineID, plantID string, cmd machine.Command, reason string, alerts []rules.Alert) (Result, error) {
	if target, ok := machine.TargetState(cmd); ok {
		d.store.ApplyCommandResult(machineID, target)
	}

	reqID := newReqID("emergency")
	d.pending.add(PendingCommand{
		ReqID:     reqID,
		MachineID: machineID,
		PlantID:   plantID,
		Command:   cmd,
		Issuer:    issuerSystem,
		IssuedAt:  time.Now(),
		Status:    StatusPending,
	})

	msg := data.ControlMessage{
		ReqID:  reqID,
		Cmd:    cmd,
		Reason: reason,
		Alerts: alerts,
		TS:     time.Now(),
	}
	if err := d.publisher.Publish(transport.ControlSubject(plantID, machineID), msg); err != nil {
		d.pending.remove(reqID)
		d.metrics.CommandsDispatched.WithLabelValues("publish_error").Inc()
		return Result{}, fmt.Errorf("publish control message: %w", err)
	}

	d.metrics.CommandsDispatched.WithLabelValues("system").Inc()
	newState, _ := machine.TargetState(cmd)
	return Result{ReqID: reqID, NewState: newState}, nil
}

// ResolveAck closes the pending entry for reqID. The second return is false
// when the reqID is unknown, which callers treat as log-and-drop.
func (d *Dispatcher) ResolveAck(reqID, ackStatus string) (PendingCommand, bool) {
	pc, ok := d.pending.resolve(reqID, ackStatus)
	if ok {
		d.metrics.AcksMatched.Inc()
	} else {
		d.metrics.AcksUnmatched.Inc()
	}
	return pc, ok
}

// PendingCount reports the number of open correlation entries.
func (d *Dispatcher) PendingCount() int { return d.pending.len() }

// RunExpiry expires pending commands older than the ack timeout, emitting a
// command_timeout event for each. A zero timeout keeps entries forever.
func (d *Dispatcher) RunExpiry(ctx context.Context) {
	if d.ackTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(d.ackTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pc := range d.pending.expire(time.Now().Add(-d.ackTimeout)) {
				d.metrics.CommandTimeouts.Inc()
				log.Printf("Command %s to %s timed out without acknowledgement", pc.ReqID, pc.MachineID)
				d.events.Emit(events.TypeCommandTimeout, pc)
			}
		}
	}
}
