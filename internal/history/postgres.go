// internal/history/postgres.go
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"factory-control-core/internal/data"
	"factory-control-core/internal/machine"
)

// Postgres is the pgx-backed history store. All tables are append-only from
// the core's point of view; only the machine registry is read back.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool, creates the schema if missing, and seeds the
// default machine registry.
func ConnectPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := p.seedMachines(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS machines (
			machine_id TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL,
			location   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry (
			id         BIGSERIAL PRIMARY KEY,
			machine_id TEXT NOT NULL,
			plant_id   TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			temp       DOUBLE PRECISION NOT NULL,
			vibration  DOUBLE PRECISION NOT NULL,
			power      DOUBLE PRECISION NOT NULL,
			raw        JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS telemetry_machine_ts ON telemetry (machine_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS machine_conditions (
			id         BIGSERIAL PRIMARY KEY,
			machine_id TEXT NOT NULL,
			plant_id   TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			telemetry  JSONB NOT NULL,
			evaluation JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conditions_machine_ts ON machine_conditions (machine_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS auto_actions (
			id         BIGSERIAL PRIMARY KEY,
			machine_id TEXT NOT NULL,
			plant_id   TEXT NOT NULL,
			action     TEXT NOT NULL,
			reason     TEXT NOT NULL,
			alerts     JSONB,
			req_id     TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS maintenance_tickets (
			id         BIGSERIAL PRIMARY KEY,
			machine_id TEXT NOT NULL,
			plant_id   TEXT NOT NULL,
			type       TEXT NOT NULL,
			reason     TEXT NOT NULL,
			priority   TEXT NOT NULL,
			status     TEXT NOT NULL,
			alerts     JSONB,
			created    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS manual_commands (
			id             BIGSERIAL PRIMARY KEY,
			machine_id     TEXT NOT NULL,
			plant_id       TEXT NOT NULL,
			command        TEXT NOT NULL,
			operator       TEXT NOT NULL,
			user_role      TEXT NOT NULL,
			req_id         TEXT NOT NULL,
			ts             TIMESTAMPTZ NOT NULL,
			previous_state TEXT NOT NULL,
			new_state      TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// defaultMachines is the factory fleet the registry starts with.
var defaultMachines = []machine.Info{
	{MachineID: "CNC-001", Name: "5-Axis CNC Mill", Type: "cnc", Location: "Machining Cell A"},
	{MachineID: "CNC-002", Name: "CNC Lathe", Type: "cnc", Location: "Machining Cell B"},
	{MachineID: "IM-001", Name: "Injection Molder 200T", Type: "injection", Location: "Molding Line 1"},
	{MachineID: "IM-002", Name: "Injection Molder 500T", Type: "injection", Location: "Molding Line 2"},
	{MachineID: "ROB-001", Name: "6-Axis Assembly Robot", Type: "robot", Location: "Assembly Station 1"},
	{MachineID: "ROB-002", Name: "SCARA Robot", Type: "robot", Location: "Assembly Station 2"},
	{MachineID: "CV-001", Name: "Main Conveyor Line", Type: "conveyor", Location: "Production Line"},
	{MachineID: "CV-002", Name: "Packaging Conveyor", Type: "conveyor", Location: "Packaging Area"},
	{MachineID: "QC-001", Name: "Vision Inspection System", Type: "quality", Location: "Final Inspection"},
	{MachineID: "QC-002", Name: "Laser Measurement", Type: "quality", Location: "Quality Lab"},
}

func (p *Postgres) seedMachines(ctx context.Context) error {
	for _, m := range defaultMachines {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO machines (machine_id, name, type, location) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (machine_id) DO NOTHING`,
			m.MachineID, m.Name, m.Type, m.Location)
		if err != nil {
			return fmt.Errorf("seed machines: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveTelemetry(ctx context.Context, r data.TelemetryReading) error {
	raw := r.Raw
	if raw == nil {
		raw = []byte("{}")
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO telemetry (machine_id, plant_id, ts, temp, vibration, power, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.MachineID, r.PlantID, r.Timestamp, r.Temperature, r.Vibration, r.Power, raw)
	return err
}

func (p *Postgres) SaveCondition(ctx context.Context, rec ConditionRecord) error {
	telemetry, err := json.Marshal(rec.Telemetry)
	if err != nil {
		return err
	}
	verdict, err := json.Marshal(rec.Verdict)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO machine_conditions (machine_id, plant_id, ts, telemetry, evaluation)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.MachineID, rec.PlantID, rec.Timestamp, telemetry, verdict)
	return err
}

func (p *Postgres) SaveAutoAction(ctx context.Context, rec AutoActionRecord) error {
	alerts, err := json.Marshal(rec.Alerts)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO auto_actions (machine_id, plant_id, action, reason, alerts, req_id, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.MachineID, rec.PlantID, rec.Action, rec.Reason, alerts, rec.ReqID, rec.Timestamp)
	return err
}

func (p *Postgres) SaveMaintenanceTicket(ctx context.Context, t MaintenanceTicket) error {
	alerts, err := json.Marshal(t.Alerts)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO maintenance_tickets (machine_id, plant_id, type, reason, priority, status, alerts, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.MachineID, t.PlantID, t.Type, t.Reason, t.Priority, t.Status, alerts, t.Created)
	return err
}

func (p *Postgres) SaveCommand(ctx context.Context, rec CommandRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO manual_commands (machine_id, plant_id, command, operator, user_role, req_id, ts, previous_state, new_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.MachineID, rec.PlantID, rec.Command, rec.Operator, rec.Role, rec.ReqID,
		rec.Timestamp, rec.PreviousState, rec.NewState)
	return err
}

func (p *Postgres) ListMachines(ctx context.Context) ([]machine.Info, error) {
	rows, err := p.pool.Query(ctx, `SELECT machine_id, name, type, location FROM machines ORDER BY machine_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []machine.Info
	for rows.Next() {
		var m machine.Info
		if err := rows.Scan(&m.MachineID, &m.Name, &m.Type, &m.Location); err != nil {
			return nil, err
		}
		infos = append(infos, m)
	}
	return infos, rows.Err()
}

func (p *Postgres) RecentTelemetry(ctx context.Context, machineID string, limit int) ([]data.TelemetryReading, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := p.pool.Query(ctx,
		`SELECT machine_id, plant_id, ts, temp, vibration, power FROM telemetry
		 WHERE machine_id = $1 ORDER BY ts DESC LIMIT $2`, machineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []data.TelemetryReading
	for rows.Next() {
		var r data.TelemetryReading
		if err := rows.Scan(&r.MachineID, &r.PlantID, &r.Timestamp, &r.Temperature, &r.Vibration, &r.Power); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (p *Postgres) RecentConditions(ctx context.Context, machineID string, limit int) ([]ConditionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT machine_id, plant_id, ts, telemetry, evaluation FROM machine_conditions
		 WHERE machine_id = $1 ORDER BY ts DESC LIMIT $2`, machineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ConditionRecord
	for rows.Next() {
		var (
			rec       ConditionRecord
			telemetry []byte
			verdict   []byte
		)
		if err := rows.Scan(&rec.MachineID, &rec.PlantID, &rec.Timestamp, &telemetry, &verdict); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(telemetry, &rec.Telemetry); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(verdict, &rec.Verdict); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

var _ Store = (*Postgres)(nil)
