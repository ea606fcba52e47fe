// internal/data/parser.go
package data

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"factory-control-core/internal/machine"
)

// telemetryBody is the permissive wire shape of a telemetry payload.
// Metric fields are pointers so absent readings can be told apart from
// zero readings; devices may attach extra fields which are ignored here
// but kept in the raw payload.
type telemetryBody struct {
	MachineID string   `json:"machineId"`
	TS        string   `json:"ts"`
	Temp      *float64 `json:"temp"`
	Vibration *float64 `json:"vibration"`
	Power     *float64 `json:"power"`
}

// ParseTelemetry decodes a telemetry body into a reading. The three metrics
// must all be present and finite; the evaluator's precondition is enforced
// here, at the transport boundary.
func ParseTelemetry(plant, machineID string, payload []byte) (TelemetryReading, error) {
	var body telemetryBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return TelemetryReading{}, fmt.Errorf("decode telemetry: %w", err)
	}

	for name, v := range map[string]*float64{"temp": body.Temp, "vibration": body.Vibration, "power": body.Power} {
		if v == nil {
			return TelemetryReading{}, fmt.Errorf("telemetry missing metric %q", name)
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return TelemetryReading{}, fmt.Errorf("telemetry metric %q is not finite", name)
		}
	}

	reading := TelemetryReading{
		MachineID:   machineID,
		PlantID:     plant,
		Timestamp:   time.Now(),
		Temperature: *body.Temp,
		Vibration:   *body.Vibration,
		Power:       *body.Power,
		Raw:         payload,
	}
	if body.TS != "" {
		if t, err := time.Parse(time.RFC3339Nano, body.TS); err == nil {
			reading.Timestamp = t
		}
	}
	return reading, nil
}

// ParseAck decodes a control acknowledgement. reqId is the correlation key
// and must be present.
func ParseAck(payload []byte) (AckMessage, error) {
	var ack AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return AckMessage{}, fmt.Errorf("decode ack: %w", err)
	}
	if ack.ReqID == "" {
		return AckMessage{}, fmt.Errorf("ack missing reqId")
	}
	return ack, nil
}

// ParseStatus decodes a device status report, rejecting unknown states.
func ParseStatus(payload []byte) (machine.State, string, error) {
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", "", fmt.Errorf("decode status: %w", err)
	}
	st, ok := machine.ParseState(msg.Status)
	if !ok {
		return "", "", fmt.Errorf("unknown machine status %q", msg.Status)
	}
	return st, msg.Message, nil
}
