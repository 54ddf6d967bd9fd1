package mapreduce

import "sync"

type joinFlag int32

const (
	joinNobodyWaiting joinFlag = iota
	joinWaiterJoining
	joinFinished
)

// JobHandle is the waitable handle StartJob returns, grounded on
// original_source/EX3-OS/MapReduceFramework.cpp's JobHandle: a thin
// wrapper that lets any number of callers wait for completion, query
// progress, and eventually release the job's resources.
type JobHandle struct {
	job *jobContext

	mu   sync.Mutex
	cond *sync.Cond
	join joinFlag
}

func newJobHandle(job *jobContext) *JobHandle {
	h := &JobHandle{job: job}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Wait blocks until every worker has finished. It implements spec.md
// §4.9's tri-state join-flag: the first caller transitions the flag
// and does the actual sync.WaitGroup join; later concurrent callers
// wait on a condition variable instead of joining twice; callers
// after completion return immediately. Wait is idempotent.
func (h *JobHandle) Wait() {
	h.mu.Lock()
	switch h.join {
	case joinFinished:
		h.mu.Unlock()
		return
	case joinWaiterJoining:
		for h.join != joinFinished {
			h.cond.Wait()
		}
		h.mu.Unlock()
		return
	default: // joinNobodyWaiting
		h.join = joinWaiterJoining
		h.mu.Unlock()
	}

	h.job.wg.Wait()
	h.job.logByteCounts()

	h.mu.Lock()
	h.join = joinFinished
	h.cond.Broadcast()
	h.mu.Unlock()
}

// State atomically snapshots {stage, percent} under the job's stage
// mutex. Safe to call at any point in the job's lifecycle, including
// before StartJob's goroutines have run at all.
func (h *JobHandle) State() JobState {
	return h.job.state.snapshot(h.job.progress)
}

// Output returns the job's accumulated output pairs. Only meaningful
// after Wait has returned.
func (h *JobHandle) Output() []OutputPair {
	h.job.outputMu.Lock()
	defer h.job.outputMu.Unlock()
	return h.job.output
}

// Close waits for the job to finish, then drops the job's owned
// slices so the garbage collector can reclaim them. Double-close is
// undefined and need not be supported, per spec.md §8.
func (h *JobHandle) Close() {
	h.Wait()
	h.job.workerVectors = nil
	h.job.groups = nil
}
