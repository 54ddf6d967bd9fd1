package ult

import (
	"os"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Runtime is a single cooperative user-level thread scheduler. It owns
// every piece of mutable scheduling state behind one mutex, which plays
// the role the original library's masked SIGVTALRM handler played:
// only one goroutine is ever allowed to mutate the ready queue, the
// sleep list or the thread table at a time.
//
// The original C library gets true preemption of arbitrary running code
// for free, because a real OS timer signal can interrupt any
// instruction stream. Go has no portable equivalent (no cgo, no
// assembly): a goroutine that never calls back into the library cannot
// be paused from the outside. This runtime is therefore cooperative — a
// spawned thread only yields the single logical CPU it shares with its
// siblings at one of the three documented voluntary suspension points
// (block(self), sleep(self), terminate(self)).
//
// The main thread (id 0) is exempt from that contract by definition —
// it can never block or sleep itself — so it is treated as always
// runnable in the background: whenever no worker thread currently
// holds the CPU, rt.current sits at 0 and the scheduler dispatches the
// next ready or newly-woken worker the moment one becomes available
// (from Spawn, Resume, or the sleep-wake ticker), rather than leaving
// it stranded in the ready queue waiting for a main-thread yield that
// can never come. This is a deliberate, named adaptation; see
// DESIGN.md.
type Runtime struct {
	mu   sync.Mutex
	cond *sync.Cond

	threads map[int]*threadRecord
	ready   []int
	current int

	tids *tidAllocator

	quantum       time.Duration
	totalQuantums int64
	lastDispatch  time.Time

	closed bool
	stopCh chan struct{}
}

// NewRuntime creates the scheduler and dispatches the main thread (id 0)
// as the initial current thread, matching uthread_init's contract: the
// quantum counter starts at 1 and thread 0's own quantum count starts
// at 1, without any context switch taking place.
func NewRuntime(quantumUsecs int) (*Runtime, error) {
	if quantumUsecs <= 0 {
		return nil, sysErr("init", ErrInvalidArgument)
	}
	rt := &Runtime{
		threads: make(map[int]*threadRecord),
		tids:    newTidAllocator(MaxThreads),
		quantum: quantumFromUsecs(quantumUsecs),
		stopCh:  make(chan struct{}),
	}
	rt.cond = sync.NewCond(&rt.mu)

	mainID, ok := rt.tids.allocate()
	if !ok || mainID != 0 {
		return nil, sysErr("init", ErrSlotExhausted)
	}
	main := newThreadRecord(0, false)
	main.quantums = 1
	rt.threads[0] = main
	rt.current = 0
	rt.totalQuantums = 1
	rt.lastDispatch = time.Now()

	go rt.wakerLoop()

	log.WithField("quantumUsecs", quantumUsecs).Debug("ult: runtime initialized")
	return rt, nil
}

// Close stops the background sleep-waker goroutine. It does not affect
// any already-spawned threads.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	rt.mu.Unlock()
	close(rt.stopCh)
}

// wakerLoop is the virtual-time interval timer's Go realization: while
// idle, it periodically advances the quantum counter to the earliest
// pending wake time and dispatches that thread, so a sleeping thread
// wakes up even when nothing else happens to yield and retrigger a
// switch in the meantime. With no sleeper pending, it dispatches the
// head of the ready queue once the idle main thread has held the CPU
// for a full quantum; this is how a thread that woke during its own
// switch into idle (e.g. after Sleep(0)) gets to run again.
func (rt *Runtime) wakerLoop() {
	ticker := time.NewTicker(rt.quantum)
	defer ticker.Stop()
	for {
		select {
		case <-rt.stopCh:
			return
		case <-ticker.C:
			rt.mu.Lock()
			if rt.current != 0 {
				rt.mu.Unlock()
				continue
			}
			if wt, ok := rt.earliestWake(); ok {
				if wt > rt.totalQuantums {
					rt.totalQuantums = wt
				}
				rt.wakeEligible()
			} else if time.Since(rt.lastDispatch) < rt.quantum {
				rt.mu.Unlock()
				continue
			}
			if len(rt.ready) == 0 {
				rt.mu.Unlock()
				continue
			}
			next := rt.ready[0]
			rt.ready = rt.ready[1:]
			resumeCh := rt.dispatchLocked(next)
			rt.mu.Unlock()
			resumeCh <- struct{}{}
		}
	}
}

// Spawn creates a new thread running entry and appends it to the ready
// queue. If the scheduler is idle (no worker thread currently holds
// the CPU) the new thread is dispatched immediately.
func (rt *Runtime) Spawn(entry func()) (int, error) {
	if entry == nil {
		return 0, sysErr("spawn", ErrInvalidArgument)
	}
	rt.mu.Lock()
	id, ok := rt.tids.allocate()
	if !ok {
		rt.mu.Unlock()
		return 0, sysErr("spawn", ErrSlotExhausted)
	}
	t := newThreadRecord(id, true)
	rt.threads[id] = t

	go func() {
		rt.park(t.resume)
		entry()
		rt.selfTerminate(id)
	}()

	var resumeCh chan struct{}
	if rt.current == 0 {
		resumeCh = rt.dispatchLocked(id)
	} else {
		rt.ready = append(rt.ready, id)
		rt.cond.Broadcast()
	}
	rt.mu.Unlock()

	if resumeCh != nil {
		resumeCh <- struct{}{}
	}

	log.WithField("tid", id).Debug("ult: thread spawned")
	return id, nil
}

// Terminate ends the thread identified by tid. Terminating the main
// thread (id 0) ends the whole process, mirroring uthread_terminate's
// contract for the main thread.
func (rt *Runtime) Terminate(tid int) error {
	if tid == 0 {
		log.Info("ult: main thread terminated, exiting")
		rt.Close()
		os.Exit(0)
		return nil
	}

	rt.mu.Lock()
	t, ok := rt.threads[tid]
	if !ok {
		rt.mu.Unlock()
		return sysErr("terminate", ErrUnknownThread)
	}

	if tid == rt.current {
		rt.mu.Unlock()
		rt.switchFrom(tid, true)
		// unreachable: switchFrom(terminating=true) never returns for self.
		return nil
	}

	rt.removeFromReady(tid)
	rt.tids.release(tid)
	delete(rt.threads, tid)
	close(t.resume)
	rt.mu.Unlock()

	log.WithField("tid", tid).Debug("ult: thread terminated")
	return nil
}

// selfTerminate is invoked by a thread's goroutine wrapper once its
// entry function returns normally, an implicit terminate(self).
func (rt *Runtime) selfTerminate(tid int) {
	rt.switchFrom(tid, true)
}

// Block marks tid as blocked, removing it from scheduling until Resume
// is called. Blocking the calling thread yields the CPU.
func (rt *Runtime) Block(tid int) error {
	if tid == 0 {
		return sysErr("block", ErrMainThreadBlock)
	}
	rt.mu.Lock()
	t, ok := rt.threads[tid]
	if !ok {
		rt.mu.Unlock()
		return sysErr("block", ErrUnknownThread)
	}
	t.blocked = true
	self := tid == rt.current
	if !self {
		rt.removeFromReady(tid)
		rt.mu.Unlock()
		return nil
	}
	rt.mu.Unlock()
	rt.switchFrom(tid, false)
	return nil
}

// Resume clears tid's blocked flag and, if it isn't sleeping, makes it
// ready again — dispatching it immediately if the scheduler is idle.
func (rt *Runtime) Resume(tid int) error {
	rt.mu.Lock()
	t, ok := rt.threads[tid]
	if !ok {
		rt.mu.Unlock()
		return sysErr("resume", ErrUnknownThread)
	}
	if !t.blocked {
		rt.mu.Unlock()
		return nil
	}
	t.blocked = false
	if t.sleeping() {
		rt.mu.Unlock()
		return nil
	}
	var resumeCh chan struct{}
	if rt.current == 0 {
		resumeCh = rt.dispatchLocked(tid)
	} else {
		rt.ready = append(rt.ready, tid)
		rt.cond.Broadcast()
	}
	rt.mu.Unlock()
	if resumeCh != nil {
		resumeCh <- struct{}{}
	}
	return nil
}

// Sleep puts the calling thread to sleep for n quantums, counted from
// the virtual quantum counter's value at the moment the call is made.
// Id 0 may never sleep.
func (rt *Runtime) Sleep(n int) error {
	if n < 0 {
		return sysErr("sleep", ErrInvalidArgument)
	}
	rt.mu.Lock()
	tid := rt.current
	if tid == 0 {
		rt.mu.Unlock()
		return sysErr("sleep", ErrMainThreadSleep)
	}
	t := rt.threads[tid]
	t.wakeAt = rt.totalQuantums + int64(n)
	if t.wakeAt == 0 {
		t.wakeAt = -1 // distinguish sleep(n) landing on quantum 0 from "not sleeping"
	}
	rt.mu.Unlock()

	rt.switchFrom(tid, false)
	return nil
}

// GetTid returns the id of the currently scheduled thread.
func (rt *Runtime) GetTid() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.current
}

// GetTotalQuantums returns the virtual quantum counter. It starts at 1
// (the initial dispatch of thread 0) and advances by one on every
// dispatch; while idle, the sleep-wake ticker may also advance it
// directly to the earliest pending wake time.
func (rt *Runtime) GetTotalQuantums() int64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.totalQuantums
}

// GetQuantums returns how many quantums tid has been dispatched for.
func (rt *Runtime) GetQuantums(tid int) (int, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t, ok := rt.threads[tid]
	if !ok {
		return 0, sysErr("get_quantums", ErrUnknownThread)
	}
	return t.quantums, nil
}

// removeFromReady purges tid from the ready queue; must be called with
// mu held.
func (rt *Runtime) removeFromReady(tid int) {
	out := rt.ready[:0]
	for _, id := range rt.ready {
		if id != tid {
			out = append(out, id)
		}
	}
	rt.ready = out
}

// dispatchLocked installs next as the current thread and performs the
// counter/quantum bookkeeping common to every dispatch path (spawn,
// resume, sleep-wake, and voluntary switch). Must be called with mu
// held; the caller is responsible for sending on the returned channel
// after releasing mu.
func (rt *Runtime) dispatchLocked(next int) chan struct{} {
	rt.current = next
	rt.totalQuantums++
	rt.threads[next].quantums++
	rt.lastDispatch = time.Now()
	rt.cond.Broadcast()
	log.WithFields(log.Fields{"to": next, "quantum": rt.totalQuantums}).Debug("ult: dispatch")
	return rt.threads[next].resume
}

// park blocks the calling goroutine until it is dispatched (or the
// channel is closed out from under it by a remote Terminate, in which
// case the goroutine exits via runtime.Goexit, the idiomatic way to
// unwind a goroutine from deep in a call stack without panicking).
func (rt *Runtime) park(resume chan struct{}) {
	if _, ok := <-resume; !ok {
		runtime.Goexit()
	}
}

// switchFrom implements the common body of block(self), sleep(self)
// and terminate(self): enqueue the caller if it remains runnable,
// select the next ready thread (or fall back to idle, i.e. the main
// thread, if none is ready), and hand the CPU to the winner.
func (rt *Runtime) switchFrom(tid int, terminating bool) {
	rt.mu.Lock()
	t := rt.threads[tid]

	if !terminating && !t.blocked && !t.sleeping() {
		rt.ready = append(rt.ready, tid)
	}

	// The successor for this switch is chosen from whoever was already
	// ready BEFORE sleepers are woken: a thread whose wake time arrives
	// this quantum joins the tail of the ready queue but does not run
	// until the following quantum (spec.md §4.3 step 3 before step 4).
	var next int
	idle := false
	if len(rt.ready) > 0 {
		next = rt.ready[0]
		rt.ready = rt.ready[1:]
	} else {
		next = 0
		idle = true
	}

	rt.wakeEligible()

	var nextResume chan struct{}
	if idle {
		rt.current = 0
		rt.totalQuantums++
		rt.threads[0].quantums++
		rt.lastDispatch = time.Now()
		rt.cond.Broadcast()
		log.WithFields(log.Fields{"from": tid, "quantum": rt.totalQuantums}).Debug("ult: scheduler goes idle")
	} else {
		nextResume = rt.dispatchLocked(next)
	}

	if terminating {
		rt.tids.release(tid)
		delete(rt.threads, tid)
	}

	sameThread := next == tid && !terminating && !idle
	rt.mu.Unlock()

	if sameThread {
		return
	}
	if !idle {
		nextResume <- struct{}{}
	}
	if terminating {
		runtime.Goexit()
	}
	rt.park(t.resume)
}

// wakeEligible moves sleeping threads whose wake time has arrived into
// the ready queue. Must be called with mu held.
func (rt *Runtime) wakeEligible() {
	for id, t := range rt.threads {
		if t.sleeping() && t.wakeAt <= rt.totalQuantums {
			t.wakeAt = 0
			if !t.blocked {
				rt.ready = append(rt.ready, id)
			}
		}
	}
}

// earliestWake returns the smallest wake time among sleeping threads.
// Must be called with mu held.
func (rt *Runtime) earliestWake() (int64, bool) {
	found := false
	var min int64
	for _, t := range rt.threads {
		if t.sleeping() {
			if !found || t.wakeAt < min {
				min = t.wakeAt
				found = true
			}
		}
	}
	return min, found
}
