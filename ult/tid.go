package ult

import "container/heap"

// tidHeap is a min-heap of free thread ids, used so that spawn always
// hands out the smallest available id (mirrors the original library's
// linear scan for the first unused slot).
type tidHeap []int

func (h tidHeap) Len() int            { return len(h) }
func (h tidHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tidHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tidHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *tidHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// tidAllocator hands out and reclaims thread ids in the range [0, max).
type tidAllocator struct {
	free tidHeap
}

func newTidAllocator(max int) *tidAllocator {
	a := &tidAllocator{free: make(tidHeap, max)}
	for i := 0; i < max; i++ {
		a.free[i] = i
	}
	heap.Init(&a.free)
	return a
}

// allocate returns the smallest free id, or ok=false if the pool is exhausted.
func (a *tidAllocator) allocate() (id int, ok bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	return heap.Pop(&a.free).(int), true
}

func (a *tidAllocator) release(id int) {
	heap.Push(&a.free, id)
}
