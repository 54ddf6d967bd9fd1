package mapreduce

// WorkerContext is the per-worker handle passed to Map and Reduce,
// grounded on corral's Emitter interface (emitter.go) but adapted from
// file-backed sinks to the in-memory vectors spec.md §3 describes:
// each worker owns its intermediate vector exclusively during map,
// and Emit3 appends to the job's single shared output collection.
type WorkerContext struct {
	job *jobContext
	id  int
}

// Emit2 appends an intermediate (K2, V2) pair to this worker's local
// vector. Only the owning worker's goroutine ever touches it during
// map, so no lock is needed; the shuffler takes over the vectors only
// after every worker has reached the barrier.
func (c *WorkerContext) Emit2(key Key, value interface{}) {
	c.job.workerVectors[c.id] = append(c.job.workerVectors[c.id], IntermediatePair{Key: key, Value: value})
}

// Emit3 appends an output (K3, V3) pair to the job's shared output
// collection, under the single vector-mutex spec.md §5 requires.
func (c *WorkerContext) Emit3(key, value interface{}) {
	c.job.outputMu.Lock()
	c.job.output = append(c.job.output, OutputPair{Key: key, Value: value})
	c.job.outputMu.Unlock()
}
