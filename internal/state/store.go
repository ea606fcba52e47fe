// internal/state/store.go
package state

import (
	"sync"
	"time"

	"factory-control-core/internal/machine"
	"factory-control-core/internal/rules"
)

// MachineState is the tracked condition of one machine.
type MachineState struct {
	MachineID      string         `json:"machineId"`
	CurrentState   machine.State  `json:"currentState"`
	LastEvaluation *rules.Verdict `json:"lastEvaluation,omitempty"`
	LastUpdate     time.Time      `json:"lastUpdate"`
	StatusMessage  string         `json:"statusMessage,omitempty"`
	Info           machine.Info   `json:"machineData"`
	Registered     bool           `json:"registered"`
}

type entry struct {
	mu    sync.Mutex
	state MachineState
}

// Store is the in-memory table of per-machine state. All mutations are
// last-writer-wins: device reports, command results, and evaluations
// overwrite each other in arrival order. Each machine has its own lock so
// updates for different machines never contend.
type Store struct {
	mu       sync.RWMutex
	machines map[string]*entry
	now      func() time.Time
}

// NewStore creates an empty store seeded from the given registry entries.
func NewStore(infos []machine.Info) *Store {
	s := &Store{
		machines: make(map[string]*entry, len(infos)),
		now:      time.Now,
	}
	for _, info := range infos {
		s.machines[info.MachineID] = &entry{state: MachineState{
			MachineID:    info.MachineID,
			CurrentState: machine.StateIdle,
			LastUpdate:   s.now(),
			Info:         info,
			Registered:   true,
		}}
	}
	return s
}

func (s *Store) lookup(machineID string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.machines[machineID]
	s.mu.RUnlock()
	return e, ok
}

// getOrCreate returns the entry for machineID, creating an unregistered one
// if the machine is not in the registry. Devices can report before the
// registry knows them; those entries stay flagged unregistered.
func (s *Store) getOrCreate(machineID string) *entry {
	if e, ok := s.lookup(machineID); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.machines[machineID]; ok {
		return e
	}
	e := &entry{state: MachineState{
		MachineID:    machineID,
		CurrentState: machine.StateIdle,
		LastUpdate:   s.now(),
		Info:         machine.Info{MachineID: machineID, Name: "Unknown Machine"},
	}}
	s.machines[machineID] = e
	return e
}

// Has reports whether the store holds an entry for machineID, whether it
// came from the registry or from a device report.
func (s *Store) Has(machineID string) bool {
	_, ok := s.lookup(machineID)
	return ok
}

// Get returns the current state of a machine. Unknown machines yield an
// idle projection flagged unregistered; Get never fails.
func (s *Store) Get(machineID string) MachineState {
	e, ok := s.lookup(machineID)
	if !ok {
		return MachineState{
			MachineID:    machineID,
			CurrentState: machine.StateIdle,
			LastUpdate:   s.now(),
			Info:         machine.Info{MachineID: machineID, Name: "Unknown Machine"},
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ApplyEvaluation records a verdict for the machine. The current state only
// moves when the verdict recommends stopped or maintenance; a healthy
// verdict leaves whatever state the machine is in untouched.
func (s *Store) ApplyEvaluation(machineID string, verdict rules.Verdict) MachineState {
	e := s.getOrCreate(machineID)
	e.mu.Lock()
	defer e.mu.Unlock()
	v := verdict
	e.state.LastEvaluation = &v
	e.state.LastUpdate = s.now()
	if verdict.RecommendedState == machine.StateStopped || verdict.RecommendedState == machine.StateMaintenance {
		e.state.CurrentState = verdict.RecommendedState
	}
	return e.state
}

// ApplyCommandResult optimistically moves the machine to the state a
// dispatched command predicts. The device's own status report will later
// overwrite this per last-writer-wins.
func (s *Store) ApplyCommandResult(machineID string, newState machine.State) MachineState {
	e := s.getOrCreate(machineID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.CurrentState = newState
	e.state.LastUpdate = s.now()
	return e.state
}

// ApplyDeviceStatus overwrites the machine state with a device-reported
// status. The device is authoritative over local predictions.
func (s *Store) ApplyDeviceStatus(machineID string, status machine.State, message string) MachineState {
	e := s.getOrCreate(machineID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.CurrentState = status
	e.state.StatusMessage = message
	e.state.LastUpdate = s.now()
	return e.state
}

// Snapshot returns a copy of every tracked machine state, keyed by machine id.
func (s *Store) Snapshot() map[string]MachineState {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.machines))
	for _, e := range s.machines {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make(map[string]MachineState, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out[e.state.MachineID] = e.state
		e.mu.Unlock()
	}
	return out
}
