package raster

import (
	"github.com/gogpu/tiles/internal/parallel"
)

// WorkerRasterizer runs raster tasks on a pool of worker goroutines.
//
// It is owned by the scheduling goroutine. The owner waits on Ready and
// calls CheckForCompletedTasks when it fires, typically from the same loop
// that calls the tile manager.
type WorkerRasterizer struct {
	pool   *parallel.WorkerPool
	client Client

	// jobs maps every task handed to the pool and not yet completed.
	jobs map[*Task]*parallel.Job

	// requiredOutstanding counts outstanding RequiredForActivation tasks.
	requiredOutstanding int

	// Pending DidFinish notifications, armed by ScheduleTasks.
	notifyAll      bool
	notifyRequired bool

	closed bool
}

var _ Rasterizer = (*WorkerRasterizer)(nil)

// NewWorkerRasterizer creates a rasterizer with the given number of
// workers. If workers <= 0, GOMAXPROCS is used.
func NewWorkerRasterizer(workers int) *WorkerRasterizer {
	return &WorkerRasterizer{
		pool: parallel.NewWorkerPool(workers),
		jobs: make(map[*Task]*parallel.Job),
	}
}

// Workers returns the number of worker goroutines.
func (w *WorkerRasterizer) Workers() int { return w.pool.Workers() }

// Ready returns a channel that receives a value when completed tasks are
// waiting for CheckForCompletedTasks.
func (w *WorkerRasterizer) Ready() <-chan struct{} { return w.pool.Notify() }

// Outstanding returns the number of tasks scheduled but not yet completed.
func (w *WorkerRasterizer) Outstanding() int { return len(w.jobs) }

// Idle reports whether no worker is busy. Finished tasks may still be
// waiting for CheckForCompletedTasks.
func (w *WorkerRasterizer) Idle() bool { return w.pool.Idle() }

// SetClient implements Rasterizer.
func (w *WorkerRasterizer) SetClient(c Client) { w.client = c }

// ScheduleTasks implements Rasterizer.
func (w *WorkerRasterizer) ScheduleTasks(q *TaskQueue) {
	var tasks []*Task
	if q != nil {
		tasks = q.Tasks()
	}

	jobs := make([]*parallel.Job, 0, len(tasks))
	for _, t := range tasks {
		if t == nil || t.HasCompleted() {
			continue
		}
		job, ok := w.jobs[t]
		if !ok {
			job = parallel.NewJob(t.Run)
			job.Data = t
			w.jobs[t] = job
			if t.input.RequiredForActivation {
				w.requiredOutstanding++
			}
		}
		jobs = append(jobs, job)
	}

	w.notifyAll = true
	w.notifyRequired = true

	if w.closed {
		slogger().Debug("raster: tasks scheduled after shutdown", "count", len(jobs))
	}
	w.pool.SetJobs(jobs)

	slogger().Debug("raster: scheduled tasks",
		"count", len(jobs), "outstanding", len(w.jobs), "required", w.requiredOutstanding)
}

// CheckForCompletedTasks implements Rasterizer.
func (w *WorkerRasterizer) CheckForCompletedTasks() {
	for _, job := range w.pool.CollectCompleted() {
		t, ok := job.Data.(*Task)
		if !ok {
			continue
		}
		delete(w.jobs, t)
		if t.input.RequiredForActivation {
			w.requiredOutstanding--
		}

		res := t.Result()
		if job.Canceled() {
			res = Result{Canceled: true}
			if w.closed {
				res.Err = ErrRasterizerClosed
			}
		}
		t.Complete(res)
	}

	if w.notifyRequired && w.requiredOutstanding == 0 {
		w.notifyRequired = false
		if w.client != nil {
			w.client.DidFinishRunningTasksRequiredForActivation()
		}
	}
	if w.notifyAll && len(w.jobs) == 0 {
		w.notifyAll = false
		if w.client != nil {
			w.client.DidFinishRunningTasks()
		}
	}
}

// Shutdown implements Rasterizer.
func (w *WorkerRasterizer) Shutdown() {
	if w.closed {
		return
	}
	w.closed = true
	w.pool.SetJobs(nil)
	w.pool.Close()
	w.CheckForCompletedTasks()
	slogger().Debug("raster: rasterizer shut down")
}
