package parallel

import "container/heap"

// jobHeap implements heap.Interface for ready-job ordering.
// Jobs are ordered by their position in the last SetJobs call.
type jobHeap []*Job

var _ heap.Interface = (*jobHeap)(nil)

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool { return h[i].priority < h[j].priority }

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.heapIndex = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.heapIndex = -1
	*h = old[:n-1]
	return job
}
