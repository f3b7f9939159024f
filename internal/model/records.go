package model

import (
	"encoding/json"
	"time"
)

// MetadataAssertion is a bundle asserting that a source S claims these
// properties about subject E at some point. It is never mutated after
// insertion; repeated identical bodies from the same source collapse to
// one row via the (subject, content hash, source) uniqueness constraint.
type MetadataAssertion struct {
	ID              int64
	SubjectEntityID int64
	SourceID        Source
	Reason          AssertionReason
	JSONBody        json.RawMessage
	ContentHash     string
	CreatedAt       time.Time
}

// Event is a directed, typed claim linking at most two identified things,
// produced by an analyzer reading an assertion. Subject and object entity
// ids are optional, but when present they are always resolved identifiers:
// the type+value pairing is reconstructed at hydration time, not stored.
// AssertionID is nil for events loaded directly via --load-events, which
// have no backing assertion.
type Event struct {
	ID              int64
	AnalyzerID      AnalyzerKind
	SourceID        Source
	SubjectEntityID *int64
	ObjectEntityID  *int64
	AssertionID     *int64
	JSONBody        json.RawMessage
	CreatedAt       time.Time
}

// Handler is a user-uploaded JavaScript source fragment expected to define
// a global function f. Identical source collapses to one handler via the
// content-hash uniqueness constraint.
type Handler struct {
	ID          int64
	Code        string
	Status      HandlerStatus
	OwnerID     string
	ContentHash string
	CreatedAt   time.Time
}

// ExecutionResult records the outcome of running one handler against one
// event: exactly one of Output or Error is set, enforced by the database
// CHECK constraint backing this type. EventID is -1 for handler-level
// failures (load failure, timeout) that precede any per-event execution.
type ExecutionResult struct {
	ID         int64
	HandlerID  int64
	EventID    int64
	Output     json.RawMessage
	Error      *string
	ExecutedAt time.Time
}

// Checkpoint is a named high-water mark, such as the harvester's last
// successfully processed "indexed" timestamp.
type Checkpoint struct {
	Name      string
	Value     time.Time
	UpdatedAt time.Time
}
