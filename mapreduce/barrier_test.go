package mapreduce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierRunsActionExactlyOnceAtLastArrival(t *testing.T) {
	const n = 5
	var actionRuns int32
	var arrivedBeforeAction int32

	b := newBarrier(n, func() {
		atomic.AddInt32(&actionRuns, 1)
	})

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n-1; i++ {
		go func() {
			defer wg.Done()
			b.arrive()
			atomic.AddInt32(&arrivedBeforeAction, 1)
		}()
	}

	// Give the first n-1 arrivals a chance to actually block.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&actionRuns))

	go func() {
		defer wg.Done()
		b.arrive()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never released all arrivals")
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&actionRuns))
	require.LessOrEqual(t, int32(0), atomic.LoadInt32(&arrivedBeforeAction))
}
