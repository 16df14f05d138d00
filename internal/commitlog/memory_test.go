package commitlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLog_SequenceNumbersAreMonotonic(t *testing.T) {
	log := NewMemoryLog()
	require.NoError(t, log.StartWriting())

	var last LogSequenceNumber
	for i := 0; i < 10; i++ {
		seq, err := log.LogStatusEdit(NewWorkerDiedEdit("w", int64(i)))
		require.NoError(t, err)
		assert.True(t, seq.After(last))
		last = seq
	}
}

func TestMemoryLog_AppendRequiresWritable(t *testing.T) {
	log := NewMemoryLog()
	_, err := log.LogStatusEdit(NewWorkerDiedEdit("w", 1))
	assert.ErrorIs(t, err, ErrLogNotAvailable)

	require.NoError(t, log.StartWriting())
	_, err = log.LogStatusEdit(NewWorkerDiedEdit("w", 1))
	assert.NoError(t, err)

	require.NoError(t, log.Close())
	_, err = log.LogStatusEdit(NewWorkerDiedEdit("w", 2))
	assert.ErrorIs(t, err, ErrLogNotAvailable)
}

func TestMemoryLog_RecoveryReplaysFromSequence(t *testing.T) {
	log := NewMemoryLog()
	require.NoError(t, log.StartWriting())
	for i := 0; i < 5; i++ {
		_, err := log.LogStatusEdit(NewWorkerDiedEdit("w", int64(i)))
		require.NoError(t, err)
	}

	var replayed []LogSequenceNumber
	require.NoError(t, log.Recovery(2, func(seq LogSequenceNumber, edit *StatusEdit) {
		replayed = append(replayed, seq)
	}))
	assert.Equal(t, []LogSequenceNumber{3, 4, 5}, replayed)
}

func TestMemoryLog_CheckpointTruncates(t *testing.T) {
	log := NewMemoryLog()
	require.NoError(t, log.StartWriting())
	for i := 0; i < 5; i++ {
		_, err := log.LogStatusEdit(NewWorkerDiedEdit("w", int64(i)))
		require.NoError(t, err)
	}

	snap := EmptySnapshot()
	snap.ActualSequenceNumber = 3
	require.NoError(t, log.Checkpoint(snap))

	loaded, err := log.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, LogSequenceNumber(3), loaded.ActualSequenceNumber)

	var replayed []LogSequenceNumber
	require.NoError(t, log.Recovery(loaded.ActualSequenceNumber, func(seq LogSequenceNumber, edit *StatusEdit) {
		replayed = append(replayed, seq)
	}))
	assert.Equal(t, []LogSequenceNumber{4, 5}, replayed)
}

func TestMemoryLog_LoadSnapshotEmptyByDefault(t *testing.T) {
	log := NewMemoryLog()
	snap, err := log.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), snap.MaxTaskID)
	assert.Equal(t, LogSequenceNumber(0), snap.ActualSequenceNumber)
}

func TestMemoryLog_FollowerStreamsAndElection(t *testing.T) {
	log := NewFollowerMemoryLog()
	assert.False(t, log.IsLeader())

	received := make(chan LogSequenceNumber, 16)
	done := make(chan error, 1)
	go func() {
		done <- log.FollowTheLeader(0, func(seq LogSequenceNumber, edit *StatusEdit) {
			received <- seq
		})
	}()

	log.FeedFollower(NewWorkerDiedEdit("w", 1))
	log.FeedFollower(NewWorkerDiedEdit("w", 2))

	assert.Equal(t, LogSequenceNumber(1), <-received)
	assert.Equal(t, LogSequenceNumber(2), <-received)

	log.PromoteToLeader()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("FollowTheLeader did not return after promotion")
	}
	assert.True(t, log.IsLeader())
}

func TestMemoryLog_CloseReleasesFollower(t *testing.T) {
	log := NewFollowerMemoryLog()

	done := make(chan error, 1)
	go func() {
		done <- log.FollowTheLeader(0, func(seq LogSequenceNumber, edit *StatusEdit) {})
	}()

	require.NoError(t, log.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("FollowTheLeader did not return after close")
	}
	assert.True(t, log.IsClosed())
}
