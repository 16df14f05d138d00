// Package redislog implements a StatusChangesLog on Redis: sequence numbers
// from INCR, the edit stream in a list, leadership through a SET NX lease
// renewed in the background. Followers poll-tail the list until they win
// the lease.
package redislog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/aluccaroni/majordodo/internal/commitlog"
	"github.com/aluccaroni/majordodo/pkg/logger"
)

const (
	defaultLeaseTTL     = 10 * time.Second
	defaultPollInterval = 200 * time.Millisecond
)

// renewScript extends the lease only while we still own it.
const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// releaseScript deletes the lease only if we own it.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

type journalRecord struct {
	Seq  commitlog.LogSequenceNumber `json:"seq"`
	Edit *commitlog.StatusEdit       `json:"edit"`
}

// RedisLog is a replicated StatusChangesLog backed by a shared Redis.
// Only the lease holder appends, so pushes land in sequence order.
type RedisLog struct {
	client       *redis.Client
	prefix       string
	leaseValue   string
	leaseTTL     time.Duration
	pollInterval time.Duration

	mu        sync.Mutex
	leader    bool
	writable  bool
	closed    bool
	stopRenew chan struct{}
}

// NewRedisLog creates a Redis log with the given key prefix. Brokers of the
// same cluster must share the prefix.
func NewRedisLog(client *redis.Client, prefix string) *RedisLog {
	if prefix == "" {
		prefix = "majordodo"
	}
	return &RedisLog{
		client:       client,
		prefix:       prefix,
		leaseValue:   uuid.New().String(),
		leaseTTL:     defaultLeaseTTL,
		pollInterval: defaultPollInterval,
	}
}

func (l *RedisLog) seqKey() string      { return l.prefix + ":seq" }
func (l *RedisLog) editsKey() string    { return l.prefix + ":edits" }
func (l *RedisLog) snapshotKey() string { return l.prefix + ":snapshot" }
func (l *RedisLog) leaderKey() string   { return l.prefix + ":leader" }

// LogStatusEdit appends edit to the shared stream and returns its sequence
// number. Fails if the lease was lost.
func (l *RedisLog) LogStatusEdit(edit *commitlog.StatusEdit) (commitlog.LogSequenceNumber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.writable {
		return 0, commitlog.ErrLogNotAvailable
	}
	ctx := context.Background()

	owner, err := l.client.Get(ctx, l.leaderKey()).Result()
	if err != nil || owner != l.leaseValue {
		l.leader = false
		l.writable = false
		return 0, fmt.Errorf("%w: leadership lost", commitlog.ErrLogNotAvailable)
	}

	seq, err := l.client.Incr(ctx, l.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
	}
	rec := journalRecord{Seq: commitlog.LogSequenceNumber(seq), Edit: edit}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode edit: %w", err)
	}
	if err := l.client.RPush(ctx, l.editsKey(), data).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
	}
	return rec.Seq, nil
}

// FollowTheLeader tails the shared edit stream until this replica wins the
// leadership lease or the log is closed.
func (l *RedisLog) FollowTheLeader(from commitlog.LogSequenceNumber, apply commitlog.ApplyEditFunc) error {
	ctx := context.Background()
	last := from
	for {
		if l.IsClosed() {
			return nil
		}

		acquired, err := l.client.SetNX(ctx, l.leaderKey(), l.leaseValue, l.leaseTTL).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
		}
		if acquired {
			l.mu.Lock()
			l.leader = true
			l.stopRenew = make(chan struct{})
			go l.renewLease(l.stopRenew)
			l.mu.Unlock()
			logger.Infof("leadership lease acquired")
			return nil
		}

		records, err := l.fetchRecords(ctx, last)
		if err != nil {
			return err
		}
		for _, rec := range records {
			apply(rec.Seq, rec.Edit)
			last = rec.Seq
		}

		time.Sleep(l.pollInterval)
	}
}

func (l *RedisLog) fetchRecords(ctx context.Context, after commitlog.LogSequenceNumber) ([]journalRecord, error) {
	lines, err := l.client.LRange(ctx, l.editsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
	}
	var records []journalRecord
	for _, line := range lines {
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("corrupted journal record: %w", err)
		}
		if rec.Seq.After(after) {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (l *RedisLog) renewLease(stop chan struct{}) {
	ticker := time.NewTicker(l.leaseTTL / 3)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			result, err := l.client.Eval(ctx, renewScript,
				[]string{l.leaderKey()},
				l.leaseValue,
				l.leaseTTL.Milliseconds()).Result()
			if err != nil || result.(int64) == 0 {
				logger.Warnf("leadership lease lost: %v", err)
				l.mu.Lock()
				l.leader = false
				l.writable = false
				l.mu.Unlock()
				return
			}
		}
	}
}

// IsLeader reports whether this replica holds the lease.
func (l *RedisLog) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leader
}

// IsWritable reports whether the append path is armed.
func (l *RedisLog) IsWritable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writable
}

// IsClosed reports whether the log was closed.
func (l *RedisLog) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// StartWriting arms the append path. The caller must already hold the lease
// (FollowTheLeader returned after winning it); a standalone broker that
// never followed acquires it here.
func (l *RedisLog) StartWriting() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return commitlog.ErrLogNotAvailable
	}
	ctx := context.Background()
	if !l.leader {
		acquired, err := l.client.SetNX(ctx, l.leaderKey(), l.leaseValue, l.leaseTTL).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
		}
		if !acquired {
			return fmt.Errorf("%w: another broker holds the lease", commitlog.ErrLogNotAvailable)
		}
		l.leader = true
		l.stopRenew = make(chan struct{})
		go l.renewLease(l.stopRenew)
	}
	l.writable = true
	return nil
}

// LoadSnapshot reads the last checkpointed snapshot, or an empty one.
func (l *RedisLog) LoadSnapshot() (*commitlog.Snapshot, error) {
	ctx := context.Background()
	data, err := l.client.Get(ctx, l.snapshotKey()).Bytes()
	if err == redis.Nil {
		return commitlog.EmptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
	}
	var snap commitlog.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// Recovery replays retained edits with sequence > from.
func (l *RedisLog) Recovery(from commitlog.LogSequenceNumber, apply commitlog.ApplyEditFunc) error {
	if l.IsClosed() {
		return commitlog.ErrLogNotAvailable
	}
	records, err := l.fetchRecords(context.Background(), from)
	if err != nil {
		return err
	}
	for _, rec := range records {
		apply(rec.Seq, rec.Edit)
	}
	return nil
}

// Checkpoint stores snapshot and pops edits it covers from the stream.
func (l *RedisLog) Checkpoint(snapshot *commitlog.Snapshot) error {
	if l.IsClosed() {
		return commitlog.ErrLogNotAvailable
	}
	ctx := context.Background()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := l.client.Set(ctx, l.snapshotKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
	}
	for {
		line, err := l.client.LIndex(ctx, l.editsKey(), 0).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("corrupted journal record: %w", err)
		}
		if rec.Seq.After(snapshot.ActualSequenceNumber) {
			return nil
		}
		if err := l.client.LPop(ctx, l.editsKey()).Err(); err != nil {
			return fmt.Errorf("%w: %v", commitlog.ErrLogNotAvailable, err)
		}
	}
}

// Close releases the lease. The Redis client is owned by the caller.
func (l *RedisLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.writable = false
	wasLeader := l.leader
	l.leader = false
	stop := l.stopRenew
	l.stopRenew = nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if wasLeader {
		ctx := context.Background()
		if err := l.client.Eval(ctx, releaseScript, []string{l.leaderKey()}, l.leaseValue).Err(); err != nil {
			logger.Warnf("failed to release leadership lease: %v", err)
		}
	}
	return nil
}
