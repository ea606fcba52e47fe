package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factory-control-core/internal/machine"
)

func TestParseTelemetry(t *testing.T) {
	payload := []byte(`{"machineId":"CNC-001","ts":"2026-08-28T10:15:00Z","temp":72.5,"vibration":1.2,"power":245,"efficiency":0.93}`)

	r, err := ParseTelemetry("A1", "CNC-001", payload)
	require.NoError(t, err)

	assert.Equal(t, "CNC-001", r.MachineID)
	assert.Equal(t, "A1", r.PlantID)
	assert.Equal(t, 72.5, r.Temperature)
	assert.Equal(t, 1.2, r.Vibration)
	assert.Equal(t, 245.0, r.Power)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC), r.Timestamp.UTC())
	assert.Equal(t, payload, r.Raw)
}

func TestParseTelemetryDefaultsTimestamp(t *testing.T) {
	r, err := ParseTelemetry("A1", "CNC-001", []byte(`{"temp":72,"vibration":1,"power":245}`))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), r.Timestamp, time.Minute)

	// An unparseable ts falls back to arrival time too.
	r, err = ParseTelemetry("A1", "CNC-001", []byte(`{"ts":"yesterday","temp":72,"vibration":1,"power":245}`))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), r.Timestamp, time.Minute)
}

func TestParseTelemetryMissingMetric(t *testing.T) {
	cases := []string{
		`{"vibration":1,"power":245}`,
		`{"temp":72,"power":245}`,
		`{"temp":72,"vibration":1}`,
		`{}`,
	}
	for _, body := range cases {
		_, err := ParseTelemetry("A1", "CNC-001", []byte(body))
		assert.Error(t, err, "body %s", body)
	}
}

func TestParseTelemetryBadJSON(t *testing.T) {
	_, err := ParseTelemetry("A1", "CNC-001", []byte(`not json`))
	assert.Error(t, err)
}

func TestParseAck(t *testing.T) {
	ack, err := ParseAck([]byte(`{"reqId":"manual-1724800000000-ab12cd34","status":"ack"}`))
	require.NoError(t, err)
	assert.Equal(t, "manual-1724800000000-ab12cd34", ack.ReqID)
	assert.Equal(t, "ack", ack.Status)

	_, err = ParseAck([]byte(`{"status":"ack"}`))
	assert.Error(t, err)

	_, err = ParseAck([]byte(`[]`))
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	st, msg, err := ParseStatus([]byte(`{"status":"maintenance","message":"tool change"}`))
	require.NoError(t, err)
	assert.Equal(t, machine.StateMaintenance, st)
	assert.Equal(t, "tool change", msg)

	_, _, err = ParseStatus([]byte(`{"status":"exploded"}`))
	assert.Error(t, err)

	_, _, err = ParseStatus([]byte(`nope`))
	assert.Error(t, err)
}
