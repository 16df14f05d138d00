package redislog

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluccaroni/majordodo/internal/commitlog"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLog_AppendAssignsSequence(t *testing.T) {
	client := newTestClient(t)
	log := NewRedisLog(client, "t")
	require.NoError(t, log.StartWriting())
	defer log.Close()

	for i := 1; i <= 3; i++ {
		seq, err := log.LogStatusEdit(commitlog.NewWorkerDiedEdit("w", int64(i)))
		require.NoError(t, err)
		assert.Equal(t, commitlog.LogSequenceNumber(i), seq)
	}
}

func TestRedisLog_SecondBrokerCannotWrite(t *testing.T) {
	client := newTestClient(t)
	leader := NewRedisLog(client, "t")
	require.NoError(t, leader.StartWriting())
	defer leader.Close()

	follower := NewRedisLog(client, "t")
	err := follower.StartWriting()
	assert.ErrorIs(t, err, commitlog.ErrLogNotAvailable, "lease is exclusive")
}

func TestRedisLog_RecoveryAndCheckpoint(t *testing.T) {
	client := newTestClient(t)
	log := NewRedisLog(client, "t")
	require.NoError(t, log.StartWriting())
	defer log.Close()

	for i := 1; i <= 5; i++ {
		_, err := log.LogStatusEdit(commitlog.NewWorkerDiedEdit("w", int64(i)))
		require.NoError(t, err)
	}

	var replayed []commitlog.LogSequenceNumber
	require.NoError(t, log.Recovery(2, func(seq commitlog.LogSequenceNumber, edit *commitlog.StatusEdit) {
		replayed = append(replayed, seq)
	}))
	assert.Equal(t, []commitlog.LogSequenceNumber{3, 4, 5}, replayed)

	snap := commitlog.EmptySnapshot()
	snap.ActualSequenceNumber = 3
	require.NoError(t, log.Checkpoint(snap))

	loaded, err := log.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, commitlog.LogSequenceNumber(3), loaded.ActualSequenceNumber)

	replayed = nil
	require.NoError(t, log.Recovery(0, func(seq commitlog.LogSequenceNumber, edit *commitlog.StatusEdit) {
		replayed = append(replayed, seq)
	}))
	assert.Equal(t, []commitlog.LogSequenceNumber{4, 5}, replayed, "checkpoint trimmed the stream")
}

func TestRedisLog_FollowerTailsAndTakesOver(t *testing.T) {
	client := newTestClient(t)
	leader := NewRedisLog(client, "t")
	require.NoError(t, leader.StartWriting())

	_, err := leader.LogStatusEdit(commitlog.NewWorkerDiedEdit("w", 1))
	require.NoError(t, err)
	_, err = leader.LogStatusEdit(commitlog.NewWorkerDiedEdit("w", 2))
	require.NoError(t, err)

	follower := NewRedisLog(client, "t")
	defer follower.Close()

	applied := make(chan commitlog.LogSequenceNumber, 16)
	done := make(chan error, 1)
	go func() {
		done <- follower.FollowTheLeader(0, func(seq commitlog.LogSequenceNumber, edit *commitlog.StatusEdit) {
			applied <- seq
		})
	}()

	assert.Equal(t, commitlog.LogSequenceNumber(1), <-applied)
	assert.Equal(t, commitlog.LogSequenceNumber(2), <-applied)

	// the leader steps down, the follower must win the lease
	require.NoError(t, leader.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not take over after leader close")
	}
	assert.True(t, follower.IsLeader())
	require.NoError(t, follower.StartWriting())
	seq, err := follower.LogStatusEdit(commitlog.NewWorkerDiedEdit("w", 3))
	require.NoError(t, err)
	assert.Equal(t, commitlog.LogSequenceNumber(3), seq)
}

func TestRedisLog_AppendFailsAfterClose(t *testing.T) {
	client := newTestClient(t)
	log := NewRedisLog(client, "t")
	require.NoError(t, log.StartWriting())
	require.NoError(t, log.Close())

	_, err := log.LogStatusEdit(commitlog.NewWorkerDiedEdit("w", 1))
	assert.ErrorIs(t, err, commitlog.ErrLogNotAvailable)
	assert.True(t, log.IsClosed())
}
