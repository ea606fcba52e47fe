package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factory-control-core/internal/data"
	"factory-control-core/internal/events"
	"factory-control-core/internal/history"
	"factory-control-core/internal/machine"
	"factory-control-core/internal/metrics"
	"factory-control-core/internal/rules"
	"factory-control-core/internal/state"
)

type published struct {
	subject string
	payload any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{subject, v})
	return nil
}

func (p *fakePublisher) last(t *testing.T) published {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent)
	return p.sent[len(p.sent)-1]
}

type captureHistory struct {
	history.Nop
	mu       sync.Mutex
	commands []history.CommandRecord
}

func (h *captureHistory) SaveCommand(_ context.Context, rec history.CommandRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, rec)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *state.Store, *fakePublisher, *captureHistory) {
	t.Helper()
	store := state.NewStore([]machine.Info{
		{MachineID: "CNC-001", Name: "5-Axis CNC Mill"},
	})
	pub := &fakePublisher{}
	hist := &captureHistory{}
	d := NewDispatcher(store, pub, hist, events.Discard, metrics.New(), 0)
	return d, store, pub, hist
}

func TestDispatchRequiresRole(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "role")
}

func TestDispatchUnknownMachine(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{
		MachineID: "GHOST-9", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleAdmin,
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestDispatchViewerAlwaysRejected(t *testing.T) {
	d, _, pub, _ := newTestDispatcher(t)

	for _, cmd := range []machine.Command{
		machine.CommandStart, machine.CommandStop, machine.CommandMaintenanceMode, machine.CommandEmergencyStop,
	} {
		_, err := d.Dispatch(context.Background(), Request{
			MachineID: "CNC-001", PlantID: "A1", Command: cmd, Issuer: "bob", Role: RoleViewer,
		})
		require.Error(t, err, "command %s", cmd)
		assert.True(t, IsValidation(err))
	}
	assert.Empty(t, pub.sent)
}

func TestDispatchEmergencyStopRoleGate(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandEmergencyStop, Issuer: "carol", Role: "scheduler",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandEmergencyStop, Issuer: "carol", Role: RoleOperator,
	})
	assert.NoError(t, err)
}

func TestDispatchStartBlockedByDetectedIssues(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)

	store.ApplyEvaluation("CNC-001", rules.Evaluate(96, 1.0, 250))
	_, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleOperator,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detected issues")

	// A subsequent healthy evaluation clears the gate.
	store.ApplyEvaluation("CNC-001", rules.Evaluate(70, 1.0, 250))
	_, err = d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleOperator,
	})
	assert.NoError(t, err)
}

func TestDispatchStopAlreadyStopped(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)
	store.ApplyCommandResult("CNC-001", machine.StateStopped)

	_, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStop, Issuer: "alice", Role: RoleAdmin,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already stopped")
}

func TestDispatchSuccess(t *testing.T) {
	d, store, pub, hist := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleOperator,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.ReqID, "manual-"))
	assert.Equal(t, machine.StateRunning, res.NewState)

	// Optimistic store update before the device answers.
	assert.Equal(t, machine.StateRunning, store.Get("CNC-001").CurrentState)

	// Control message published with the correlation key.
	msg := pub.last(t)
	assert.Equal(t, "factory.A1.machine.CNC-001.control", msg.subject)
	ctrl, ok := msg.payload.(data.ControlMessage)
	require.True(t, ok)
	assert.Equal(t, res.ReqID, ctrl.ReqID)
	assert.Equal(t, machine.CommandStart, ctrl.Cmd)
	assert.Equal(t, "alice", ctrl.Operator)

	// Pending entry and audit record exist.
	assert.Equal(t, 1, d.PendingCount())
	require.Len(t, hist.commands, 1)
	assert.Equal(t, machine.StateIdle, hist.commands[0].PreviousState)
	assert.Equal(t, machine.StateRunning, hist.commands[0].NewState)
}

func TestDispatchUnrecognizedCommandKeepsState(t *testing.T) {
	d, store, pub, _ := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: "calibrate", Issuer: "alice", Role: RoleAdmin,
	})
	require.NoError(t, err)

	assert.Equal(t, machine.StateIdle, res.NewState)
	assert.Equal(t, machine.StateIdle, store.Get("CNC-001").CurrentState)
	assert.NotEmpty(t, pub.sent)
}

func TestDispatchSystemBypassesChecks(t *testing.T) {
	d, store, pub, _ := newTestDispatcher(t)
	verdict := rules.Evaluate(96, 1.0, 250)

	res, err := d.DispatchSystem(context.Background(), "CNC-001", "A1",
		machine.CommandEmergencyStop, "Automatic safety shutdown", verdict.Alerts)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.ReqID, "emergency-"))
	assert.Equal(t, machine.StateStopped, store.Get("CNC-001").CurrentState)

	ctrl, ok := pub.last(t).payload.(data.ControlMessage)
	require.True(t, ok)
	assert.Equal(t, "Automatic safety shutdown", ctrl.Reason)
	assert.Equal(t, verdict.Alerts, ctrl.Alerts)
}

func TestResolveAck(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleAdmin,
	})
	require.NoError(t, err)

	pc, ok := d.ResolveAck(res.ReqID, "ack")
	require.True(t, ok)
	assert.Equal(t, StatusAcked, pc.Status)
	assert.Equal(t, "ack", pc.AckStatus)
	assert.Equal(t, 0, d.PendingCount())

	// A second ack for the same reqId no longer matches.
	_, ok = d.ResolveAck(res.ReqID, "ack")
	assert.False(t, ok)
}

func TestResolveAckUnknownReqID(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	_, ok := d.ResolveAck("manual-123-deadbeef", "ack")
	assert.False(t, ok)
}

func TestDispatchDeviceReportedMachine(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)

	// A device the registry does not know reports in; the store now tracks
	// it, so commands to it are admitted.
	store.ApplyDeviceStatus("PRESS-9", machine.StateRunning, "came online")

	res, err := d.Dispatch(context.Background(), Request{
		MachineID: "PRESS-9", PlantID: "A1", Command: machine.CommandStop, Issuer: "alice", Role: RoleOperator,
	})
	require.NoError(t, err)
	assert.Equal(t, machine.StateStopped, res.NewState)
	assert.Equal(t, machine.StateStopped, store.Get("PRESS-9").CurrentState)
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, any) error {
	return errors.New("nats: connection closed")
}

func TestDispatchPublishFailureDropsPending(t *testing.T) {
	store := state.NewStore([]machine.Info{
		{MachineID: "CNC-001", Name: "5-Axis CNC Mill"},
	})
	d := NewDispatcher(store, failingPublisher{}, &captureHistory{}, events.Discard, metrics.New(), 0)

	_, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleOperator,
	})
	require.Error(t, err)
	assert.False(t, IsValidation(err))

	// No ack will ever arrive for a message that never left the process.
	assert.Equal(t, 0, d.PendingCount())

	_, err = d.DispatchSystem(context.Background(), "CNC-001", "A1",
		machine.CommandEmergencyStop, "Automatic safety shutdown", nil)
	require.Error(t, err)
	assert.Equal(t, 0, d.PendingCount())
}

type failingHistory struct{ history.Nop }

func (failingHistory) SaveCommand(context.Context, history.CommandRecord) error {
	return errors.New("history store down")
}

func TestDispatchSucceedsWhenAuditWriteFails(t *testing.T) {
	store := state.NewStore([]machine.Info{
		{MachineID: "CNC-001", Name: "5-Axis CNC Mill"},
	})
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, failingHistory{}, events.Discard, metrics.New(), 0)

	res, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleOperator,
	})
	require.NoError(t, err)

	// Control logic proceeds without the audit trail.
	assert.Equal(t, machine.StateRunning, store.Get("CNC-001").CurrentState)
	assert.Equal(t, 1, d.PendingCount())
	assert.Equal(t, res.ReqID, pub.last(t).payload.(data.ControlMessage).ReqID)
}

func TestRunExpiryEmitsTimeoutEvents(t *testing.T) {
	store := state.NewStore([]machine.Info{
		{MachineID: "CNC-001", Name: "5-Axis CNC Mill"},
	})
	timeouts := make(chan any, 1)
	emitter := events.EmitterFunc(func(eventType string, payload any) {
		if eventType == events.TypeCommandTimeout {
			timeouts <- payload
		}
	})
	m := metrics.New()
	d := NewDispatcher(store, &fakePublisher{}, &captureHistory{}, emitter, m, 20*time.Millisecond)

	res, err := d.Dispatch(context.Background(), Request{
		MachineID: "CNC-001", PlantID: "A1", Command: machine.CommandStart, Issuer: "alice", Role: RoleOperator,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunExpiry(ctx)

	select {
	case payload := <-timeouts:
		pc, ok := payload.(PendingCommand)
		require.True(t, ok)
		assert.Equal(t, res.ReqID, pc.ReqID)
		assert.Equal(t, StatusTimedOut, pc.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no command_timeout event before deadline")
	}

	assert.Equal(t, 0, d.PendingCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandTimeouts))
}

func TestPendingExpiry(t *testing.T) {
	table := newPendingTable()
	table.add(PendingCommand{ReqID: "a", IssuedAt: time.Now().Add(-time.Minute), Status: StatusPending})
	table.add(PendingCommand{ReqID: "b", IssuedAt: time.Now(), Status: StatusPending})

	expired := table.expire(time.Now().Add(-30 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].ReqID)
	assert.Equal(t, StatusTimedOut, expired[0].Status)
	assert.Equal(t, 1, table.len())
}

func TestReqIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newReqID("manual")
		assert.False(t, seen[id])
		seen[id] = true
	}
}
