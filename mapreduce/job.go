package mapreduce

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// reduceConcurrency bounds how many claimed reduce groups may be in
// flight at once across all workers, grounded directly in corral's
// runReducer/runCombiner (job.go), which bound concurrent per-key
// reduce goroutines with the same semaphore.NewWeighted(10).
const reduceConcurrency = 10

// jobState is the mutex-guarded {stage, percent} pair spec.md §5
// names, plus the per-phase denominator kept out of the packed word
// (see progress.go). snapshot and startPhase share the same mutex, so
// a reader never observes a stage and a percent from two different
// phases.
type jobState struct {
	mu    sync.Mutex
	stage Stage
	total uint32
}

func (s *jobState) startPhase(stage Stage, total uint64, prog *progress) {
	capped := capTotal(total)
	s.mu.Lock()
	prog.startStage(stage)
	s.stage = stage
	s.total = capped
	s.mu.Unlock()
}

func (s *jobState) snapshot(prog *progress) JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total == 0 {
		return JobState{Stage: s.stage, Percent: 100.0}
	}
	percent := float64(prog.completed()) / float64(s.total) * 100.0
	if percent > 100.0 {
		percent = 100.0
	}
	return JobState{Stage: s.stage, Percent: percent}
}

// jobContext is the shared state for one MapReduce run, a direct
// structural translation of
// original_source/EX3-OS/MapReduceFramework.cpp's JobContext: the
// packed progress word, the client callbacks, the input/output
// collections, per-worker intermediate vectors, the shuffle output,
// job state, and the barrier.
type jobContext struct {
	id     string
	client Client
	input  []InputPair

	progress *progress
	state    *jobState
	barrier  *barrier

	workerVectors [][]IntermediatePair
	groups        []*Group

	outputMu sync.Mutex
	output   []OutputPair

	reduceSem *semaphore.Weighted
	reduceWG  sync.WaitGroup

	wg sync.WaitGroup

	mapBytes    int64
	reduceBytes int64
}

// StartJob launches n worker goroutines that race through map,
// rendezvous at a barrier for a single shuffle, and race through
// reduce, returning immediately with a JobHandle. n is clamped to at
// least 1.
func StartJob(client Client, input []InputPair, n int) *JobHandle {
	if n < 1 {
		n = 1
	}

	job := &jobContext{
		id:        uuid.NewString(),
		client:    client,
		input:     input,
		progress:  &progress{},
		state:     &jobState{},
		reduceSem: semaphore.NewWeighted(reduceConcurrency),
	}
	handle := newJobHandle(job)

	if len(input) == 0 {
		// Empty input to start_job: wait_for_job returns immediately
		// with state {reduce, 100.0} (spec.md §8).
		job.state.startPhase(StageReduce, 0, job.progress)
		job.wg.Add(0)
		return handle
	}

	log.Debugf("mapreduce: job %s starting with %d workers over %d input pairs", job.id, n, len(input))

	job.workerVectors = make([][]IntermediatePair, n)
	job.barrier = newBarrier(n, job.runShuffle)
	job.state.startPhase(StageMap, uint64(len(input)), job.progress)

	job.wg.Add(n)
	for i := 0; i < n; i++ {
		go job.runWorker(i)
	}
	return handle
}

func (j *jobContext) runWorker(id int) {
	defer j.wg.Done()
	ctx := &WorkerContext{job: j, id: id}

	j.runMap(ctx)
	sortIntermediate(j.workerVectors[id])
	j.barrier.arrive()
	j.runReduce(ctx)
}

func (j *jobContext) runMap(ctx *WorkerContext) {
	total := uint32(len(j.input))
	for {
		idx := j.progress.reserveIndex()
		if idx >= total {
			return
		}
		pair := j.input[idx]
		j.client.Map(pair.Key, pair.Value, ctx)
		atomic.AddInt64(&j.mapBytes, approxSize(pair.Key, pair.Value))
		j.progress.addCompleted(1)
	}
}

// runShuffle is the barrier action: exactly one worker, the last to
// arrive, runs it while every other worker is parked waiting on the
// barrier's condition variable, satisfying spec.md §3's "shuffle
// output is built by exactly one worker" invariant.
func (j *jobContext) runShuffle() {
	var totalPairs uint64
	for _, v := range j.workerVectors {
		totalPairs += uint64(len(v))
	}

	j.state.startPhase(StageShuffle, totalPairs, j.progress)
	j.groups = shuffleVectors(j.workerVectors, j.progress)

	log.Debugf("mapreduce: job %s shuffled %d pairs into %d groups", j.id, totalPairs, len(j.groups))
	j.state.startPhase(StageReduce, uint64(len(j.groups)), j.progress)
}

// runReduce claims group indices from the shared counter and hands
// each to the client's Reduce, bounding how many run concurrently
// with reduceSem. Every worker blocks on the shared reduceWG once its
// own claim loop runs dry, so the job as a whole (and therefore
// percent-complete and the final output) only settles once every
// claimed group across every worker has actually finished, not just
// been claimed.
func (j *jobContext) runReduce(ctx *WorkerContext) {
	total := uint32(len(j.groups))
	for {
		idx := j.progress.reserveIndex()
		if idx >= total {
			break
		}
		group := j.groups[idx]
		if err := j.reduceSem.Acquire(context.Background(), 1); err != nil {
			log.Errorf("system error: %v", err)
			continue
		}
		j.reduceWG.Add(1)
		go func(g *Group) {
			defer j.reduceWG.Done()
			defer j.reduceSem.Release(1)
			j.client.Reduce(g, ctx)
			atomic.AddInt64(&j.reduceBytes, approxGroupSize(g))
			j.progress.addCompleted(1)
		}(group)
	}
	j.reduceWG.Wait()
}

// approxSize and approxGroupSize give the byte-accounting log lines
// (supplemented from corral's job.go, which counts real bytes off
// disk) something to report for an in-memory engine with no wire
// format: the printed representation's length.
func approxSize(key, value interface{}) int64 {
	return int64(len(fmt.Sprint(key)) + len(fmt.Sprint(value)))
}

func approxGroupSize(g *Group) int64 {
	var n int64
	for _, v := range g.Values {
		n += int64(len(fmt.Sprint(v)))
	}
	return n
}

func (j *jobContext) logByteCounts() {
	log.Debugf("mapreduce: job %s processed %s of map input and %s of reduce input",
		j.id, humanize.Bytes(uint64(atomic.LoadInt64(&j.mapBytes))), humanize.Bytes(uint64(atomic.LoadInt64(&j.reduceBytes))))
}
