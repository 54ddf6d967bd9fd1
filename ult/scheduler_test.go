package ult

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDispatchesMainThread(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)
	assert.Equal(t, 0, rt.GetTid())
	assert.EqualValues(t, 1, rt.GetTotalQuantums())
	q, err := rt.GetQuantums(0)
	require.NoError(t, err)
	assert.Equal(t, 1, q)
}

func TestSpawnAssignsSmallestFreeID(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)

	var counter int64
	done := make(chan struct{})
	entry := func() {
		atomic.AddInt64(&counter, 1)
		close(done)
	}

	id, err := rt.Spawn(entry)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	<-done
	time.Sleep(10 * time.Millisecond)
}

func TestCooperativeRoundRobin(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	makeEntry := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			// Cooperate once so the sibling gets a turn before we finish.
			_ = rt.Sleep(0)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			wg.Done()
		}
	}

	_, err = rt.Spawn(makeEntry("A"))
	require.NoError(t, err)
	_, err = rt.Spawn(makeEntry("B"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("threads did not complete in time")
	}

	assert.Equal(t, []string{"A", "B", "A", "B"}, order)
}

func TestSleepDelaysWakeUntilQuantumReached(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)

	wake := make(chan int64, 1)
	pump := make(chan struct{})

	sleeper, err := rt.Spawn(func() {
		_ = rt.Sleep(3)
		wake <- rt.GetTotalQuantums()
	})
	require.NoError(t, err)

	pumper, err := rt.Spawn(func() {
		for i := 0; i < 5; i++ {
			_ = rt.Sleep(0)
		}
		close(pump)
	})
	require.NoError(t, err)
	_ = sleeper
	_ = pumper

	select {
	case q := <-wake:
		assert.GreaterOrEqual(t, q, int64(3))
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke")
	}
	<-pump
}

func TestBlockAndResume(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)

	resumed := make(chan struct{})
	tid, err := rt.Spawn(func() {
		require.NoError(t, rt.Block(rt.GetTid()))
		close(resumed)
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	select {
	case <-resumed:
		t.Fatal("blocked thread ran past its block point before being resumed")
	default:
	}

	require.NoError(t, rt.Resume(tid))
	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("thread never resumed")
	}
}

func TestMainThreadCannotSleepOrBlock(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)
	assert.ErrorIs(t, rt.Sleep(1), ErrMainThreadSleep)
	assert.ErrorIs(t, rt.Block(0), ErrMainThreadBlock)
}

func TestUnknownThreadOperations(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)
	assert.ErrorIs(t, rt.Resume(42), ErrUnknownThread)
	assert.ErrorIs(t, rt.Terminate(42), ErrUnknownThread)
	_, err = rt.GetQuantums(42)
	assert.ErrorIs(t, err, ErrUnknownThread)
}

func TestSpawnExhaustsSlots(t *testing.T) {
	rt, err := Init(1000)
	require.NoError(t, err)

	block := make(chan struct{})
	for i := 1; i < MaxThreads; i++ {
		_, err := rt.Spawn(func() { <-block })
		require.NoError(t, err)
	}

	_, err = rt.Spawn(func() {})
	assert.ErrorIs(t, err, ErrSlotExhausted)
	close(block)
}
