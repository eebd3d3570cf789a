// Package query implements spec §6's plan-ingress contract and the
// orchestration that wires a typed logical plan through rules,
// physical planning, code generation and the runtime task engine into
// a running set of pipelines. It is the seam the coordinator (out of
// scope per spec §1) would submit compiled plans through; here it is
// exposed as a plain in-process API over an already-typed
// *logical.Operator rather than the protobuf-shaped control RPC spec
// §6 describes, since wire transport is explicitly out of scope.
package query

import (
	"github.com/google/uuid"
)

// ID identifies one submitted query for its lifetime.
type ID = uuid.UUID

func newID() ID { return uuid.New() }

// State is a query's position in the lifecycle spec §5's cancellation
// semantics describes.
type State int

const (
	StateRunning State = iota
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "?"
	}
}

// StatusEvent is one asynchronous runtime notification delivered over
// an Engine's status channel (spec §7: "{queryId, errorKind, message,
// operatorId?}").
type StatusEvent struct {
	QueryID    ID
	ErrorKind  error
	Message    string
	OperatorID *int
}
