package control

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factory-control-core/internal/command"
	"factory-control-core/internal/data"
	"factory-control-core/internal/events"
	"factory-control-core/internal/history"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/metrics"
	"factory-control-core/internal/rules"
	"factory-control-core/internal/state"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []any
}

func (p *fakePublisher) Publish(_ string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, v)
	return nil
}

type captureHistory struct {
	history.Nop
	mu      sync.Mutex
	actions []history.AutoActionRecord
	tickets []history.MaintenanceTicket
}

func (h *captureHistory) SaveAutoAction(_ context.Context, rec history.AutoActionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, rec)
	return nil
}

func (h *captureHistory) SaveMaintenanceTicket(_ context.Context, t history.MaintenanceTicket) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tickets = append(h.tickets, t)
	return nil
}

func newTestController(t *testing.T) (*Controller, *state.Store, *fakePublisher, *captureHistory) {
	t.Helper()
	store := state.NewStore([]machine.Info{{MachineID: "CNC-001"}})
	pub := &fakePublisher{}
	hist := &captureHistory{}
	d := command.NewDispatcher(store, pub, hist, events.Discard, metrics.New(), 0)
	return NewController(d, hist, metrics.New()), store, pub, hist
}

func TestOnVerdictStoppedIssuesEmergencyStop(t *testing.T) {
	c, store, pub, hist := newTestController(t)
	verdict := rules.Evaluate(96, 1.0, 250)

	c.OnVerdict(context.Background(), "CNC-001", "A1", verdict)

	require.Len(t, pub.sent, 1)
	ctrl, ok := pub.sent[0].(data.ControlMessage)
	require.True(t, ok)
	assert.Equal(t, machine.CommandEmergencyStop, ctrl.Cmd)
	assert.Equal(t, verdict.Alerts, ctrl.Alerts)

	assert.Equal(t, machine.StateStopped, store.Get("CNC-001").CurrentState)

	require.Len(t, hist.actions, 1)
	assert.Equal(t, "emergency_stop", hist.actions[0].Action)
	assert.Equal(t, ctrl.ReqID, hist.actions[0].ReqID)
	assert.Empty(t, hist.tickets)
}

func TestOnVerdictMaintenanceCreatesTicket(t *testing.T) {
	c, store, pub, hist := newTestController(t)
	verdict := rules.Evaluate(70, 3.0, 250)

	c.OnVerdict(context.Background(), "CNC-001", "A1", verdict)

	// Ticket only; no command and no direct state change from the controller.
	assert.Empty(t, pub.sent)
	assert.Equal(t, machine.StateIdle, store.Get("CNC-001").CurrentState)

	require.Len(t, hist.tickets, 1)
	ticket := hist.tickets[0]
	assert.Equal(t, "preventive", ticket.Type)
	assert.Equal(t, "medium", ticket.Priority)
	assert.Equal(t, "pending", ticket.Status)
}

func TestOnVerdictRunningDoesNothing(t *testing.T) {
	c, _, pub, hist := newTestController(t)

	c.OnVerdict(context.Background(), "CNC-001", "A1", rules.Evaluate(70, 1.0, 250))

	assert.Empty(t, pub.sent)
	assert.Empty(t, hist.actions)
	assert.Empty(t, hist.tickets)
}
