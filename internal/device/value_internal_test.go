package device

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuePoolRoundTrip(t *testing.T) {
	v := newValue([]byte{1, 2, 3})

	assert.Equal(t, []byte{1, 2, 3}, v.Data)
	assert.NotZero(t, v.TsUs)
	assert.NotZero(t, v.Seq)

	releaseValue(v)
	assert.Empty(t, v.Data)
	assert.Zero(t, v.Seq)
}

func TestValueSequenceIncreases(t *testing.T) {
	a := newValue([]byte{1})
	b := newValue([]byte{2})

	assert.Greater(t, b.Seq, a.Seq)

	releaseValue(a)
	releaseValue(b)
}

func TestEnqueueValueDropsOldestOnOverflow(t *testing.T) {
	char := &BLECharacteristic{updates: make(chan *Value, 2)}

	char.EnqueueValue(newValue([]byte{1}))
	char.EnqueueValue(newValue([]byte{2}))
	char.EnqueueValue(newValue([]byte{3}))

	first := <-char.updates
	second := <-char.updates
	require.Equal(t, []byte{2}, first.Data, "oldest value must be dropped")
	require.Equal(t, []byte{3}, second.Data)

	releaseValue(first)
	releaseValue(second)
}

func TestEnqueueValueAfterClose(t *testing.T) {
	char := &BLECharacteristic{updates: make(chan *Value, 2)}
	char.CloseUpdates()

	// Must not panic on a closed stream.
	char.EnqueueValue(newValue([]byte{1}))

	_, ok := <-char.updates
	assert.False(t, ok, "channel must be closed and empty")
}

func TestResetUpdatesRequiresClosedChannel(t *testing.T) {
	char := &BLECharacteristic{updates: make(chan *Value, 2)}

	err := char.ResetUpdates(2)
	require.Error(t, err, "reset of an open channel must fail")

	char.CloseUpdates()
	require.NoError(t, char.ResetUpdates(4))
	assert.False(t, char.closed.Load())
	assert.Equal(t, 4, cap(char.updates))
}

func TestDrainAndReleaseChannel(t *testing.T) {
	ch := make(chan *Value, 4)
	ch <- newValue([]byte{1})
	ch <- newValue([]byte{2})

	drainAndReleaseChannel(ch)
	assert.Empty(t, ch)
}

func TestValueSeqIsAtomic(t *testing.T) {
	before := atomic.LoadUint64(&valueSeq)
	v := newValue(nil)
	assert.Equal(t, before+1, v.Seq)
	releaseValue(v)
}
