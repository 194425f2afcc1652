package audit

import (
	"time"

	"github.com/google/uuid"
)

// EnvVar is one environment variable the client asked to set. Variables are
// recorded, never applied to any real process.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is the complete audit trail of one connection. A record is created
// when the connection is accepted and mutated only by that connection's
// controller, so no locking is needed; ownership transfers to the pipeline
// on finalization and the record must not be touched afterwards.
//
// Actions and Env preserve insertion order, which is occurrence order on the
// connection.
type Record struct {
	ID        uuid.UUID `json:"connection_id"`
	PeerAddr  string    `json:"peer_address,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Actions   []Action  `json:"actions"`
	Env       []EnvVar  `json:"environment,omitempty"`
}

// NewRecord creates a record for a freshly accepted connection with a random
// 128-bit id. peerAddr may be empty when the peer address is unknown.
func NewRecord(peerAddr string) *Record {
	return &Record{
		ID:        uuid.New(),
		PeerAddr:  peerAddr,
		StartedAt: time.Now().UTC(),
	}
}

// AddAction appends one action to the record.
func (r *Record) AddAction(a Action) {
	r.Actions = append(r.Actions, a)
}

// AddEnv appends one environment variable pair to the record.
func (r *Record) AddEnv(name, value string) {
	r.Env = append(r.Env, EnvVar{Name: name, Value: value})
}
