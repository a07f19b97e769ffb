package raster

// Rasterizer runs raster tasks off the scheduling goroutine.
//
// Every method is called from the scheduling goroutine. Completions are
// delivered there too: CheckForCompletedTasks calls each finished task's
// reply before returning, so the owner never sees a reply from a worker.
type Rasterizer interface {
	// SetClient installs the receiver of DidFinish notifications.
	SetClient(c Client)

	// ScheduleTasks replaces the set of pending tasks with q. Tasks that
	// were pending but are absent from q are canceled; they still complete,
	// with Result.Canceled set. Tasks already running finish normally.
	ScheduleTasks(q *TaskQueue)

	// CheckForCompletedTasks delivers the replies of every task that
	// finished or was canceled since the previous call.
	CheckForCompletedTasks()

	// Shutdown cancels pending tasks, waits for running ones and delivers
	// all outstanding replies. Tasks scheduled afterwards complete canceled.
	Shutdown()
}

// Client is notified when scheduled work drains.
type Client interface {
	// DidFinishRunningTasks is called once every task of the last
	// ScheduleTasks call has completed.
	DidFinishRunningTasks()

	// DidFinishRunningTasksRequiredForActivation is called once every task
	// flagged RequiredForActivation has completed.
	DidFinishRunningTasksRequiredForActivation()
}
