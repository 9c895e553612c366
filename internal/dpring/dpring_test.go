package dpring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	c, err := Create(fmt.Sprintf("test-%s", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRingFullnessAtCapacityMinusOne(t *testing.T) {
	c := newTestChannel(t)

	accepted := 0
	for i := 0; i < Capacity; i++ {
		if !c.MuxSendToEngine(uint32(i)) {
			break
		}
		accepted++
	}
	assert.Equal(t, Capacity-1, accepted)

	assert.False(t, c.MuxSendToEngine(999))

	h, ok := c.EngineRecvFromMux()
	require.True(t, ok)
	assert.Equal(t, uint32(0), h)

	assert.True(t, c.MuxSendToEngine(999))
}

func TestFIFOOrder(t *testing.T) {
	c := newTestChannel(t)

	for i := uint32(0); i < 10; i++ {
		require.True(t, c.EngineSendToMux(i))
	}
	for i := uint32(0); i < 10; i++ {
		h, ok := c.MuxRecvFromEngine()
		require.True(t, ok)
		assert.Equal(t, i, h)
	}
	_, ok := c.MuxRecvFromEngine()
	assert.False(t, ok)
}

func TestBulkEnqueueDequeue(t *testing.T) {
	c := newTestChannel(t)

	handles := make([]uint32, 300)
	for i := range handles {
		handles[i] = uint32(i)
	}

	n := c.MuxSendToEngineBulk(handles)
	assert.Equal(t, 300, n)

	got := c.EngineRecvFromMuxBurst(512)
	assert.Equal(t, handles, got)
}

func TestEnqueueBulkStopsAtFirstFailure(t *testing.T) {
	c := newTestChannel(t)

	handles := make([]uint32, Capacity+10)
	for i := range handles {
		handles[i] = uint32(i)
	}

	n := c.MuxSendToEngineBulk(handles)
	assert.Equal(t, Capacity-1, n)
}
