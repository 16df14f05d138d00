package commitlog

import (
	"sync"
)

type loggedEdit struct {
	seq  LogSequenceNumber
	edit *StatusEdit
}

// MemoryLog keeps the whole edit stream in memory. It backs standalone
// brokers and tests. A MemoryLog created with NewMemoryLog is leader from
// the start; NewFollowerMemoryLog starts in follower mode and streams edits
// injected with FeedFollower until PromoteToLeader is called.
type MemoryLog struct {
	mu       sync.Mutex
	cond     *sync.Cond
	edits    []loggedEdit
	lastSeq  LogSequenceNumber
	snapshot *Snapshot
	leader   bool
	writable bool
	closed   bool

	nextAppendErr error
}

// NewMemoryLog creates a leader-mode in-memory log.
func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{leader: true}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// NewFollowerMemoryLog creates a follower-mode in-memory log.
func NewFollowerMemoryLog() *MemoryLog {
	l := &MemoryLog{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// LogStatusEdit appends edit and returns its sequence number.
func (l *MemoryLog) LogStatusEdit(edit *StatusEdit) (LogSequenceNumber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.writable {
		return 0, ErrLogNotAvailable
	}
	if err := l.nextAppendErr; err != nil {
		l.nextAppendErr = nil
		return 0, err
	}
	l.lastSeq++
	l.edits = append(l.edits, loggedEdit{seq: l.lastSeq, edit: edit})
	l.cond.Broadcast()
	return l.lastSeq, nil
}

// FeedFollower appends an edit as if replicated from a remote leader and
// wakes any FollowTheLeader call.
func (l *MemoryLog) FeedFollower(edit *StatusEdit) LogSequenceNumber {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeq++
	l.edits = append(l.edits, loggedEdit{seq: l.lastSeq, edit: edit})
	l.cond.Broadcast()
	return l.lastSeq
}

// PromoteToLeader turns the log into leader mode and releases followers.
func (l *MemoryLog) PromoteToLeader() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leader = true
	l.cond.Broadcast()
}

// FailNextAppend makes the next LogStatusEdit fail with err.
func (l *MemoryLog) FailNextAppend(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextAppendErr = err
}

// FollowTheLeader streams edits with sequence > from until leadership is
// acquired or the log is closed.
func (l *MemoryLog) FollowTheLeader(from LogSequenceNumber, apply ApplyEditFunc) error {
	last := from
	for {
		l.mu.Lock()
		for !l.leader && !l.closed && l.lastSeq <= last {
			l.cond.Wait()
		}
		if l.leader || l.closed {
			l.mu.Unlock()
			return nil
		}
		pending := l.pendingLocked(last)
		l.mu.Unlock()

		// apply outside the log mutex, the applier takes the status lock
		for _, le := range pending {
			apply(le.seq, le.edit)
			last = le.seq
		}
	}
}

func (l *MemoryLog) pendingLocked(after LogSequenceNumber) []loggedEdit {
	var pending []loggedEdit
	for _, le := range l.edits {
		if le.seq.After(after) {
			pending = append(pending, le)
		}
	}
	return pending
}

// IsLeader reports whether this log may append.
func (l *MemoryLog) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

// IsWritable reports whether the append path is armed.
func (l *MemoryLog) IsWritable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writable
}

// IsClosed reports whether the log was closed.
func (l *MemoryLog) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// StartWriting arms the append path.
func (l *MemoryLog) StartWriting() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogNotAvailable
	}
	if !l.leader {
		return ErrLogNotAvailable
	}
	l.writable = true
	return nil
}

// LoadSnapshot returns the last checkpointed snapshot, or an empty one.
func (l *MemoryLog) LoadSnapshot() (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		return EmptySnapshot(), nil
	}
	return l.snapshot, nil
}

// Recovery replays retained edits with sequence > from.
func (l *MemoryLog) Recovery(from LogSequenceNumber, apply ApplyEditFunc) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLogNotAvailable
	}
	pending := l.pendingLocked(from)
	l.mu.Unlock()

	for _, le := range pending {
		apply(le.seq, le.edit)
	}
	return nil
}

// Checkpoint stores snapshot and drops edits it covers.
func (l *MemoryLog) Checkpoint(snapshot *Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogNotAvailable
	}
	l.snapshot = snapshot
	retained := l.edits[:0]
	for _, le := range l.edits {
		if le.seq.After(snapshot.ActualSequenceNumber) {
			retained = append(retained, le)
		}
	}
	l.edits = retained
	return nil
}

// Close shuts the log down and releases blocked followers.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.writable = false
	l.cond.Broadcast()
	return nil
}
