package commitlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const (
	journalFileName  = "edits.log"
	snapshotFileName = "snapshot.json"
)

type journalRecord struct {
	Seq  LogSequenceNumber `json:"seq"`
	Edit *StatusEdit       `json:"edit"`
}

// FileLog journals edits to a JSON-lines file and keeps the latest snapshot
// next to it. It is a single-server log: always leader, no followers.
// Checkpoint rewrites the journal keeping only edits past the snapshot.
type FileLog struct {
	mu      sync.Mutex
	dir     string
	journal *os.File
	lastSeq LogSequenceNumber

	writable bool
	closed   bool
}

// NewFileLog opens (or creates) a file log rooted at dir and recovers the
// last assigned sequence number from the journal and snapshot.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create commitlog directory: %w", err)
	}
	l := &FileLog{dir: dir}

	snap, err := l.readSnapshotFile()
	if err != nil {
		return nil, err
	}
	if snap != nil {
		l.lastSeq = snap.ActualSequenceNumber
	}

	records, err := l.readJournal()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Seq.After(l.lastSeq) {
			l.lastSeq = rec.Seq
		}
	}

	journal, err := os.OpenFile(l.journalPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	l.journal = journal
	return l, nil
}

func (l *FileLog) journalPath() string {
	return filepath.Join(l.dir, journalFileName)
}

func (l *FileLog) snapshotPath() string {
	return filepath.Join(l.dir, snapshotFileName)
}

// LogStatusEdit appends edit to the journal and syncs it to disk.
func (l *FileLog) LogStatusEdit(edit *StatusEdit) (LogSequenceNumber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.writable {
		return 0, ErrLogNotAvailable
	}
	seq := l.lastSeq + 1
	line, err := json.Marshal(journalRecord{Seq: seq, Edit: edit})
	if err != nil {
		return 0, fmt.Errorf("failed to encode edit: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.journal.Write(line); err != nil {
		return 0, fmt.Errorf("%w: journal write failed: %v", ErrLogNotAvailable, err)
	}
	if err := l.journal.Sync(); err != nil {
		return 0, fmt.Errorf("%w: journal sync failed: %v", ErrLogNotAvailable, err)
	}
	l.lastSeq = seq
	return seq, nil
}

// FollowTheLeader returns immediately: a file log is always the leader.
func (l *FileLog) FollowTheLeader(from LogSequenceNumber, apply ApplyEditFunc) error {
	return nil
}

// IsLeader always reports true for a single-server log.
func (l *FileLog) IsLeader() bool {
	return true
}

// IsWritable reports whether the append path is armed.
func (l *FileLog) IsWritable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writable
}

// IsClosed reports whether the log was closed.
func (l *FileLog) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// StartWriting arms the append path.
func (l *FileLog) StartWriting() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogNotAvailable
	}
	l.writable = true
	return nil
}

// LoadSnapshot reads the last checkpointed snapshot, or an empty one.
func (l *FileLog) LoadSnapshot() (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap, err := l.readSnapshotFile()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return EmptySnapshot(), nil
	}
	return snap, nil
}

func (l *FileLog) readSnapshotFile() (*Snapshot, error) {
	data, err := os.ReadFile(l.snapshotPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (l *FileLog) readJournal() ([]journalRecord, error) {
	file, err := os.Open(l.journalPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var records []journalRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corrupted journal record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return records, nil
}

// Recovery replays journaled edits with sequence > from.
func (l *FileLog) Recovery(from LogSequenceNumber, apply ApplyEditFunc) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLogNotAvailable
	}
	records, err := l.readJournal()
	l.mu.Unlock()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Seq.After(from) {
			apply(rec.Seq, rec.Edit)
		}
	}
	return nil
}

// Checkpoint atomically replaces the snapshot file and rewrites the journal
// keeping only edits past the snapshot.
func (l *FileLog) Checkpoint(snapshot *Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogNotAvailable
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	tmp := filepath.Join(l.dir, "snapshot-"+uuid.New().String()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: snapshot write failed: %v", ErrLogNotAvailable, err)
	}
	if err := os.Rename(tmp, l.snapshotPath()); err != nil {
		return fmt.Errorf("%w: snapshot rename failed: %v", ErrLogNotAvailable, err)
	}

	records, err := l.readJournal()
	if err != nil {
		return err
	}
	var retained []journalRecord
	for _, rec := range records {
		if rec.Seq.After(snapshot.ActualSequenceNumber) {
			retained = append(retained, rec)
		}
	}

	if err := l.journal.Close(); err != nil {
		return fmt.Errorf("%w: journal close failed: %v", ErrLogNotAvailable, err)
	}
	journal, err := os.OpenFile(l.journalPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: journal rewrite failed: %v", ErrLogNotAvailable, err)
	}
	for _, rec := range retained {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode edit: %w", err)
		}
		if _, err := journal.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("%w: journal rewrite failed: %v", ErrLogNotAvailable, err)
		}
	}
	if err := journal.Sync(); err != nil {
		return fmt.Errorf("%w: journal sync failed: %v", ErrLogNotAvailable, err)
	}
	l.journal = journal
	return nil
}

// Close syncs and releases the journal.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.writable = false
	if err := l.journal.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
