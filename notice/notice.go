// Package notice carries recoverable faults to subscribers alongside normal
// state, so a host UI can show inline warnings without polling.
package notice

import (
	"fmt"
	"time"
)

type Kind string

const (
	// Validation: unknown id, missing audio track. No state change.
	Validation Kind = "validation"
	// Device: permission denied, disconnect. The pipeline keeps running degraded.
	Device Kind = "device"
	// Precondition: e.g. removing the last composition.
	Precondition Kind = "precondition"
	// Fault: a loop tick failed and was skipped.
	Fault Kind = "fault"
)

type Notice struct {
	Kind Kind      `json:"kind"`
	Op   string    `json:"op"`
	ID   string    `json:"id,omitempty"`
	Msg  string    `json:"message"`
	At   time.Time `json:"at"`
	Err  error     `json:"-"`
}

func New(kind Kind, op, id string, err error, at time.Time) *Notice {
	n := &Notice{Kind: kind, Op: op, ID: id, Err: err, At: at}
	if err != nil {
		n.Msg = err.Error()
	}
	return n
}

func (n *Notice) Error() string {
	if n.ID != "" {
		return fmt.Sprintf("%s %s(%s): %s", n.Kind, n.Op, n.ID, n.Msg)
	}
	return fmt.Sprintf("%s %s: %s", n.Kind, n.Op, n.Msg)
}

func (n *Notice) Unwrap() error { return n.Err }
