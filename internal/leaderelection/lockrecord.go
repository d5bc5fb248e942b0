package leaderelection

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

// LockRecord is the domain payload every backend stores at the lock
// location (a file's contents, a Redis key's value, a Swarm service
// label's value) instead of a bare instance-ID string. Carrying the
// node identity and the holder's process through the lock itself lets
// a caller like cmd/agentctl answer "who holds this, since when, and
// what do I signal to stop it" without a side channel.
type LockRecord struct {
	NodeID     string    `json:"node_id"`
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// newLockRecord stamps a fresh record for config at acquisition time.
func newLockRecord(config *LeaderElectorConfig) LockRecord {
	now := time.Now()
	return LockRecord{
		NodeID:     config.NodeID,
		InstanceID: config.InstanceID,
		PID:        os.Getpid(),
		AcquiredAt: now,
		RenewedAt:  now,
	}
}

func (r LockRecord) encode() ([]byte, error) {
	return json.Marshal(r)
}

func decodeLockRecord(b []byte) (LockRecord, error) {
	var r LockRecord
	err := json.Unmarshal(b, &r)
	return r, err
}

// recordHolder is implemented by backends that can report the full
// LockRecord rather than just the bare leader identity GetLeader
// returns. Not every backend needs to support it, so callers type
// assert rather than it being part of leaderBackend.
type recordHolder interface {
	GetLockRecord(ctx context.Context) (*LockRecord, error)
}
