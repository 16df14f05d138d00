package commitlog

import (
	"errors"
)

// ErrLogNotAvailable is returned when the log cannot durably accept an edit
// or serve a read: I/O error, loss of leadership, closed log.
var ErrLogNotAvailable = errors.New("status changes log not available")

// LogSequenceNumber is the totally ordered identifier the log assigns to
// each persisted edit. Zero means "nothing applied yet".
type LogSequenceNumber int64

// After reports whether n was assigned after other.
func (n LogSequenceNumber) After(other LogSequenceNumber) bool {
	return n > other
}

// ApplyEditFunc consumes one replicated edit during recovery or follower
// tailing. Edits are delivered in strictly increasing sequence order.
type ApplyEditFunc func(seq LogSequenceNumber, edit *StatusEdit)

// StatusChangesLog is the single source of truth for edit ordering. The
// broker core makes no ordering claims of its own.
//
// LogStatusEdit is called outside the broker status lock, so every
// implementation must serialize concurrent appenders itself and hand out
// strictly increasing sequence numbers.
type StatusChangesLog interface {
	// LogStatusEdit durably appends edit and returns its sequence number.
	LogStatusEdit(edit *StatusEdit) (LogSequenceNumber, error)

	// FollowTheLeader streams edits with sequence > from to apply. It
	// returns nil when this replica acquires leadership or the log is
	// closed, ErrLogNotAvailable on replication failure.
	FollowTheLeader(from LogSequenceNumber, apply ApplyEditFunc) error

	// IsLeader reports whether this replica may append.
	IsLeader() bool

	// IsWritable reports whether the append path is armed.
	IsWritable() bool

	// IsClosed reports whether the log was closed.
	IsClosed() bool

	// StartWriting arms the leader append path.
	StartWriting() error

	// LoadSnapshot returns the newest durable snapshot, or an empty one.
	LoadSnapshot() (*Snapshot, error)

	// Recovery replays durable edits with sequence > from, in order.
	Recovery(from LogSequenceNumber, apply ApplyEditFunc) error

	// Checkpoint records snapshot as the new truncation point.
	Checkpoint(snapshot *Snapshot) error

	// Close releases the log. Blocked FollowTheLeader calls return.
	Close() error
}
