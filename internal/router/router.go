// internal/router/router.go
package router

import (
	"context"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"factory-control-core/internal/command"
	"factory-control-core/internal/control"
	"factory-control-core/internal/data"
	"factory-control-core/internal/events"
	"factory-control-core/internal/history"
	"factory-control-core/internal/metrics"
	"factory-control-core/internal/rules"
	"factory-control-core/internal/state"
	"factory-control-core/internal/transport"
)

// Router subscribes to the transport's telemetry, ack, and status subjects
// and demultiplexes each message into the evaluation, correlation, or
// state-update path. Malformed subjects and bodies are logged and dropped;
// nothing escapes back into the subscriber loop.
type Router struct {
	conn       *nats.Conn
	store      *state.Store
	dispatcher *command.Dispatcher
	controller *control.Controller
	history    history.Store
	events     events.Emitter
	metrics    *metrics.Metrics

	subs []*nats.Subscription
}

func New(conn *nats.Conn, store *state.Store, d *command.Dispatcher, c *control.Controller, hist history.Store, emitter events.Emitter, m *metrics.Metrics) *Router {
	return &Router{
		conn:       conn,
		store:      store,
		dispatcher: d,
		controller: c,
		history:    hist,
		events:     emitter,
		metrics:    m,
	}
}

// Start subscribes to the three wildcard patterns. Reconnects replay the
// subscriptions on the underlying connection.
func (r *Router) Start() error {
	for _, pattern := range []string{
		transport.TelemetryWildcard,
		transport.AckWildcard,
		transport.StatusWildcard,
	} {
		sub, err := r.conn.Subscribe(pattern, func(msg *nats.Msg) {
			r.Handle(context.Background(), msg.Subject, msg.Data)
		})
		if err != nil {
			return err
		}
		r.subs = append(r.subs, sub)
	}
	log.Println("Subscribed to transport topics")
	return nil
}

// Stop drains the subscriptions.
func (r *Router) Stop() {
	for _, sub := range r.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("drain subscription: %v", err)
		}
	}
}

// Handle classifies one transport message by subject and processes it to
// completion. It never panics or returns an error to the transport layer.
func (r *Router) Handle(ctx context.Context, subject string, payload []byte) {
	subj, err := transport.ParseSubject(subject)
	if err != nil {
		r.metrics.ParseErrors.WithLabelValues("subject").Inc()
		log.Printf("Dropping message on %s: %v", subject, err)
		return
	}

	switch {
	case subj.Kind == transport.KindTelemetry:
		r.metrics.MessagesReceived.WithLabelValues(transport.KindTelemetry).Inc()
		r.handleTelemetry(ctx, subj, payload)
	case subj.Kind == transport.KindControl && subj.Subkind == transport.SubkindAck:
		r.metrics.MessagesReceived.WithLabelValues("ack").Inc()
		r.handleAck(subj, payload)
	case subj.Kind == transport.KindStatus:
		r.metrics.MessagesReceived.WithLabelValues(transport.KindStatus).Inc()
		r.handleStatus(subj, payload)
	default:
		// Control messages flow core -> device; an echo here is dropped.
		r.metrics.MessagesReceived.WithLabelValues("ignored").Inc()
	}
}

func (r *Router) handleTelemetry(ctx context.Context, subj transport.Subject, payload []byte) {
	reading, err := data.ParseTelemetry(subj.Plant, subj.MachineID, payload)
	if err != nil {
		r.metrics.ParseErrors.WithLabelValues("telemetry").Inc()
		log.Printf("Dropping telemetry from %s: %v", subj.MachineID, err)
		return
	}

	if err := r.history.SaveTelemetry(ctx, reading); err != nil {
		r.metrics.HistoryWriteFailures.Inc()
		log.Printf("history write failed for telemetry from %s: %v", reading.MachineID, err)
	}

	verdict := rules.Evaluate(reading.Temperature, reading.Vibration, reading.Power)
	r.metrics.Evaluations.WithLabelValues(string(verdict.OverallStatus)).Inc()
	r.store.ApplyEvaluation(reading.MachineID, verdict)

	if err := r.history.SaveCondition(ctx, history.ConditionRecord{
		MachineID: reading.MachineID,
		PlantID:   reading.PlantID,
		Timestamp: time.Now(),
		Telemetry: reading,
		Verdict:   verdict,
	}); err != nil {
		r.metrics.HistoryWriteFailures.Inc()
		log.Printf("history write failed for condition of %s: %v", reading.MachineID, err)
	}

	r.controller.OnVerdict(ctx, reading.MachineID, reading.PlantID, verdict)

	r.events.Emit(events.TypeTelemetry, map[string]any{
		"machineId":  reading.MachineID,
		"plantId":    reading.PlantID,
		"ts":         reading.Timestamp,
		"temp":       reading.Temperature,
		"vibration":  reading.Vibration,
		"power":      reading.Power,
		"evaluation": verdict,
	})
	r.events.Emit(events.TypeMachineEvaluation, map[string]any{
		"machineId":  reading.MachineID,
		"evaluation": verdict,
		"timestamp":  time.Now(),
	})
	for _, alert := range verdict.Alerts {
		r.events.Emit(events.TypeAlert, map[string]any{
			"machineId": reading.MachineID,
			"plantId":   reading.PlantID,
			"severity":  alert.Severity,
			"message":   alert.Message,
			"ts":        time.Now(),
		})
	}
}

func (r *Router) handleAck(subj transport.Subject, payload []byte) {
	ack, err := data.ParseAck(payload)
	if err != nil {
		r.metrics.ParseErrors.WithLabelValues("ack").Inc()
		log.Printf("Dropping ack from %s: %v", subj.MachineID, err)
		return
	}

	pc, ok := r.dispatcher.ResolveAck(ack.ReqID, ack.Status)
	if !ok {
		// Not an error: the process may have restarted and lost its
		// pending-command memory.
		log.Printf("Ack for unknown reqId %s from %s, dropping", ack.ReqID, subj.MachineID)
		return
	}

	r.events.Emit(events.TypeCommandAck, map[string]any{
		"reqId":     pc.ReqID,
		"machineId": subj.MachineID,
		"status":    ack.Status,
	})
}

func (r *Router) handleStatus(subj transport.Subject, payload []byte) {
	status, message, err := data.ParseStatus(payload)
	if err != nil {
		r.metrics.ParseErrors.WithLabelValues("status").Inc()
		log.Printf("Dropping status from %s: %v", subj.MachineID, err)
		return
	}

	log.Printf("Updating machine %s state to: %s", subj.MachineID, status)
	updated := r.store.ApplyDeviceStatus(subj.MachineID, status, message)

	r.events.Emit(events.TypeStatus, map[string]any{
		"machineId": subj.MachineID,
		"status":    status,
		"message":   message,
		"ts":        updated.LastUpdate,
	})
	r.events.Emit(events.TypeMachineStateUpdate, map[string]any{
		"machineId": subj.MachineID,
		"state":     status,
		"timestamp": updated.LastUpdate,
	})
}
