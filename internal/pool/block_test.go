package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiterQueueFIFO(t *testing.T) {
	now := time.Now()
	b := newBlock("a", now)

	for id := uint64(1); id <= 3; id++ {
		b.enqueueWaiter(&waiter{requestID: id, arrivedAt: now})
	}

	assert.Equal(t, uint64(1), b.headWaiter().requestID)
	assert.Equal(t, uint64(1), b.popWaiter().requestID)
	assert.Equal(t, uint64(2), b.popWaiter().requestID)
	assert.Equal(t, uint64(3), b.popWaiter().requestID)
	assert.Nil(t, b.popWaiter())
}

func TestExpireWaitersKeepsOrder(t *testing.T) {
	now := time.Now()
	b := newBlock("a", now)

	b.enqueueWaiter(&waiter{requestID: 1, arrivedAt: now, deadline: now.Add(-time.Millisecond)})
	b.enqueueWaiter(&waiter{requestID: 2, arrivedAt: now})
	b.enqueueWaiter(&waiter{requestID: 3, arrivedAt: now, deadline: now.Add(-time.Millisecond)})
	b.enqueueWaiter(&waiter{requestID: 4, arrivedAt: now, deadline: now.Add(time.Hour)})

	expired := b.expireWaiters(now)
	require.Len(t, expired, 2)
	assert.Equal(t, uint64(1), expired[0].requestID)
	assert.Equal(t, uint64(3), expired[1].requestID)

	require.Len(t, b.waiters, 2)
	assert.Equal(t, uint64(2), b.waiters[0].requestID)
	assert.Equal(t, uint64(4), b.waiters[1].requestID)
}

func TestIdleSetOrder(t *testing.T) {
	now := time.Now()
	b := newBlock("a", now)

	c1 := newConn(1, "a", now)
	c2 := newConn(2, "a", now)
	c3 := newConn(3, "a", now)
	for _, c := range []*conn{c1, c2, c3} {
		c.state = StateIdle
		b.attach(c)
		b.pushIdle(c)
	}

	// MRU para reuso, LRU para descarte.
	assert.Equal(t, c1, b.lruIdle())
	assert.Equal(t, c3, b.popIdle())
	assert.Equal(t, c1, b.lruIdle())

	b.removeIdle(c1)
	assert.Equal(t, c2, b.lruIdle())
}

func TestPopIdleSkipsPoisoned(t *testing.T) {
	now := time.Now()
	b := newBlock("a", now)

	good := newConn(1, "a", now)
	good.state = StateIdle
	bad := newConn(2, "a", now)
	bad.state = StateIdle
	bad.poisoned = true

	b.attach(good)
	b.pushIdle(good)
	b.attach(bad)
	b.pushIdle(bad)

	assert.Equal(t, good, b.popIdle())
	assert.Nil(t, b.popIdle())
	assert.Nil(t, b.lruIdle())
}

func TestDemandEWMADecay(t *testing.T) {
	b := newBlock("a", time.Now())

	b.acquires = 4
	b.sampleDemand()
	assert.InDelta(t, 2.0, b.demandEWMA, 0.001)

	// Um intervalo depois, a mesma rajada pesa metade.
	b.sampleDemand()
	assert.InDelta(t, 1.0, b.demandEWMA, 0.001)
}

func TestPeakWantWindow(t *testing.T) {
	now := time.Now()
	b := newBlock("a", now)

	b.recordWant(now, 5)
	b.recordWant(now.Add(10*time.Second), 2)
	assert.Equal(t, 5, b.peakWant())

	// O pico antigo sai da janela de 30s.
	b.recordWant(now.Add(35*time.Second), 1)
	assert.Equal(t, 2, b.peakWant())
}

func TestStateCountsFollowAttachDetach(t *testing.T) {
	now := time.Now()
	b := newBlock("a", now)

	c := newConn(1, "a", now)
	b.attach(c)
	assert.Equal(t, 1, b.stateCount[StateConnecting])
	assert.Equal(t, 1, b.live())

	b.detach(c)
	assert.Equal(t, 0, b.stateCount[StateConnecting])
	assert.Equal(t, 0, b.live())
	assert.True(t, b.empty())
}
