// internal/command/pending.go
package command

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"factory-control-core/internal/machine"
)

// Status of a pending command correlation entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAcked    Status = "acked"
	StatusTimedOut Status = "timed-out"
)

// PendingCommand ties an issued control message to its eventual device
// acknowledgement. ReqID is the sole correlation key.
type PendingCommand struct {
	ReqID     string          `json:"reqId"`
	MachineID string          `json:"machineId"`
	PlantID   string          `json:"plantId"`
	Command   machine.Command `json:"command"`
	Issuer    string          `json:"issuer"`
	IssuedAt  time.Time       `json:"issuedAt"`
	Status    Status          `json:"status"`
	AckStatus string          `json:"ackStatus,omitempty"`
}

// newReqID builds a correlation token unique across the process lifetime:
// issue prefix, millisecond timestamp, random suffix.
func newReqID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}

// pendingTable is the in-memory correlation table, shared between the
// dispatcher (writes) and the router's ack path (resolves).
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]PendingCommand
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]PendingCommand)}
}

func (t *pendingTable) add(pc PendingCommand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[pc.ReqID] = pc
}

// remove discards the entry for reqID without resolving it. Used when the
// control message never made it onto the transport.
func (t *pendingTable) remove(reqID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, reqID)
}

// resolve closes the entry for reqID, if present, and returns it marked
// acked. Unknown reqIDs are the caller's non-error case: the process may
// have restarted and lost its pending-command memory.
func (t *pendingTable) resolve(reqID, ackStatus string) (PendingCommand, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.entries[reqID]
	if !ok {
		return PendingCommand{}, false
	}
	delete(t.entries, reqID)
	pc.Status = StatusAcked
	pc.AckStatus = ackStatus
	return pc, true
}

// expire removes every entry issued before the cutoff and returns them
// marked timed-out.
func (t *pendingTable) expire(cutoff time.Time) []PendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []PendingCommand
	for id, pc := range t.entries {
		if pc.IssuedAt.Before(cutoff) {
			delete(t.entries, id)
			pc.Status = StatusTimedOut
			expired = append(expired, pc)
		}
	}
	return expired
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
