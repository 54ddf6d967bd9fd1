package mapreduce

import "sync/atomic"

// progress packs a job phase's claim counter and completion counter
// into a single 64-bit word, grounded on
// original_source/EX3-OS/MapReduceFramework.cpp's atomic job-state
// word: bits 0-30 are the next index to claim, bits 31-61 are the
// completed count, bits 62-63 are the stage tag.
//
// The source publishes a phase's denominator by adding it into the
// very bits this word uses for "completed", which spec.md §9 flags as
// a bug once the stage tag shares the word (the add can carry into
// the tag). This implementation fixes that by keeping the denominator
// out of the word entirely (see jobState in job.go) and only ever
// advancing the completed field from zero via fetch_add(1<<31) for
// real finished units.
const (
	progressIndexBits = 31
	progressIndexMask = uint64(1)<<progressIndexBits - 1

	progressCompletedShift = progressIndexBits
	progressCompletedMask  = progressIndexMask << progressCompletedShift

	progressStageShift = progressCompletedShift + progressIndexBits

	maxProgressTotal = uint32(progressIndexMask)
)

type progress struct {
	word atomic.Uint64
}

// startStage resets the claim and completed counters to zero and
// publishes the new stage tag, in that order: the Store always lands
// before any subsequent Add for the new phase, so the tag bits are
// never raced by a denominator update.
func (p *progress) startStage(stage Stage) {
	p.word.Store(uint64(stage) << progressStageShift)
}

// reserveIndex is the claim-then-check primitive: a single fetch_add
// returns the pre-increment word, whose low 31 bits are the claimed
// index. Callers compare against the phase total themselves; a claim
// past the total is simply discarded, per spec.md §9's fix for
// executeReduce's over-increment (the completion field only advances
// on real work, never on an out-of-range claim).
func (p *progress) reserveIndex() uint32 {
	next := p.word.Add(1)
	old := next - 1
	return uint32(old & progressIndexMask)
}

// addCompleted records n finished units.
func (p *progress) addCompleted(n uint32) {
	if n == 0 {
		return
	}
	p.word.Add(uint64(n) << progressCompletedShift)
}

func (p *progress) stage() Stage {
	return Stage(p.word.Load() >> progressStageShift)
}

func (p *progress) completed() uint32 {
	return uint32((p.word.Load() & progressCompletedMask) >> progressCompletedShift)
}

// capTotal enforces spec.md §9's 2^31-1 cap on a phase's denominator.
func capTotal(total uint64) uint32 {
	if total > uint64(maxProgressTotal) {
		return maxProgressTotal
	}
	return uint32(total)
}
