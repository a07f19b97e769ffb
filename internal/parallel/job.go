package parallel

// jobState tracks a job through the pool.
type jobState uint8

const (
	jobNew jobState = iota
	jobPending
	jobRunning
	jobFinished
	jobCanceled
)

// Job is a unit of work scheduled on a WorkerPool.
//
// A job that has been handed to SetJobs always ends up in the completed
// set exactly once: either after it runs, or without running when a later
// SetJobs drops it before a worker picked it up.
type Job struct {
	// Data is an opaque value for the caller, typically the task the job
	// executes. The pool never reads it.
	Data any

	run       func()
	state     jobState
	priority  int
	heapIndex int
}

// NewJob creates a job that runs fn on a worker goroutine.
func NewJob(fn func()) *Job {
	return &Job{run: fn, heapIndex: -1}
}

// Canceled reports whether the job completed without running.
// Only meaningful after the job was returned by CollectCompleted.
func (j *Job) Canceled() bool { return j.state == jobCanceled }
