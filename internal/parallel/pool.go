// Package parallel provides the worker pool that runs raster jobs for
// gogpu/tiles.
//
// The pool keeps a priority-ordered set of ready jobs that the owner
// replaces wholesale with SetJobs. Jobs dropped from the set before a
// worker picks them up are canceled; jobs already running finish. Either
// way every job reaches the completed set, which the owner drains on its
// own goroutine with CollectCompleted.
package parallel

import (
	"container/heap"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines running scheduled jobs in priority
// order.
//
// Thread safety: WorkerPool is safe for concurrent use. Jobs run on worker
// goroutines; completion bookkeeping happens under the pool lock.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	mu sync.Mutex

	// ready holds scheduled jobs not yet picked up by a worker.
	ready jobHeap

	// runningJobs holds jobs a worker is executing.
	runningJobs map[*Job]struct{}

	// completed holds finished or canceled jobs not yet collected.
	completed []*Job

	// jobReady wakes one idle worker. Buffered(1); a worker that takes a
	// job re-signals while more jobs are ready.
	jobReady chan struct{}

	// notify signals the owner that completed jobs are waiting.
	notify chan struct{}

	// done signals workers to stop once the ready set is drained.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{
		workers:     workers,
		runningJobs: make(map[*Job]struct{}),
		jobReady:    make(chan struct{}, 1),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}

	return p
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		job := p.next()
		if job == nil {
			return
		}
		if job.run != nil {
			job.run()
		}
		p.finish(job)
	}
}

// next blocks until a job is ready or the pool is closed and drained.
func (p *WorkerPool) next() *Job {
	for {
		p.mu.Lock()
		if p.ready.Len() > 0 {
			job := heap.Pop(&p.ready).(*Job)
			job.state = jobRunning
			p.runningJobs[job] = struct{}{}
			more := p.ready.Len() > 0
			p.mu.Unlock()

			if more {
				p.signal(p.jobReady)
			}
			return job
		}
		p.mu.Unlock()

		select {
		case <-p.jobReady:
		case <-p.done:
			p.mu.Lock()
			empty := p.ready.Len() == 0
			p.mu.Unlock()
			if empty {
				// Wake a sibling so it observes done too.
				p.signal(p.jobReady)
				return nil
			}
		}
	}
}

// finish moves a job that ran to the completed set.
func (p *WorkerPool) finish(job *Job) {
	p.mu.Lock()
	delete(p.runningJobs, job)
	job.state = jobFinished
	p.completed = append(p.completed, job)
	p.mu.Unlock()

	p.signal(p.notify)
}

// SetJobs replaces the set of scheduled jobs. Position in jobs is the
// priority: earlier jobs run first.
//
// Jobs previously scheduled but absent from jobs are canceled unless a
// worker already runs them. Jobs present in both stay scheduled and take
// their new position. Jobs that already completed are ignored.
// After Close, every new job is canceled immediately.
func (p *WorkerPool) SetJobs(jobs []*Job) {
	wanted := make(map[*Job]struct{}, len(jobs))
	for _, j := range jobs {
		if j != nil {
			wanted[j] = struct{}{}
		}
	}

	p.mu.Lock()
	canceled := false

	// Drop ready jobs that are no longer wanted.
	kept := p.ready[:0]
	for _, j := range p.ready {
		if _, ok := wanted[j]; ok {
			kept = append(kept, j)
			continue
		}
		j.state = jobCanceled
		j.heapIndex = -1
		p.completed = append(p.completed, j)
		canceled = true
	}
	for i := len(kept); i < len(p.ready); i++ {
		p.ready[i] = nil
	}
	p.ready = kept

	accepting := p.running.Load()
	for i, j := range jobs {
		if j == nil {
			continue
		}
		j.priority = i
		switch j.state {
		case jobNew:
			if !accepting {
				j.state = jobCanceled
				p.completed = append(p.completed, j)
				canceled = true
				continue
			}
			j.state = jobPending
			p.ready = append(p.ready, j)
		case jobPending, jobRunning, jobFinished, jobCanceled:
			// Keeps its place, or already past the point of scheduling.
		}
	}

	for i, j := range p.ready {
		j.heapIndex = i
	}
	heap.Init(&p.ready)
	hasReady := p.ready.Len() > 0
	p.mu.Unlock()

	if hasReady {
		p.signal(p.jobReady)
	}
	if canceled {
		p.signal(p.notify)
	}
}

// CollectCompleted returns every job that finished or was canceled since
// the previous call. Order is completion order, which need not match
// scheduling order.
func (p *WorkerPool) CollectCompleted() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.completed) == 0 {
		return nil
	}
	out := p.completed
	p.completed = nil
	return out
}

// Notify returns a channel that receives a value when completed jobs are
// waiting to be collected. The signal is coalesced.
func (p *WorkerPool) Notify() <-chan struct{} {
	return p.notify
}

// Pending returns the number of scheduled jobs not yet running.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready.Len()
}

// Running returns the number of jobs currently executing.
func (p *WorkerPool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runningJobs)
}

// Idle reports whether no job is ready or running. Completed jobs may
// still be waiting to be collected.
func (p *WorkerPool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready.Len() == 0 && len(p.runningJobs) == 0
}

// Close gracefully shuts down the pool.
// It stops accepting new work, waits for all ready and running jobs to
// complete, and then stops all workers. Completed jobs stay collectable.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// signal performs a non-blocking send on a coalescing channel.
func (p *WorkerPool) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
