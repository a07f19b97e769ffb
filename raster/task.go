package raster

import (
	"fmt"
	"image"

	"github.com/gogpu/tiles/resource"
)

// Input is the immutable snapshot a raster task works from. It is read by
// a worker goroutine after handoff and never modified.
type Input struct {
	// TileID identifies the tile for logging and completion routing.
	TileID uint64

	// Source draws the layer content.
	Source PictureSource

	// ContentRect is the tile rectangle in scaled layer space.
	ContentRect image.Rectangle

	// ContentsScale is the layer-to-tile scale.
	ContentsScale float64

	// Mode is the raster quality mode.
	Mode Mode

	// Analyze enables solid-color detection.
	Analyze bool

	// RequiredForActivation marks tasks the activation gate waits on.
	RequiredForActivation bool
}

// Result is the outcome of a raster task.
type Result struct {
	// Analysis describes the content when Input.Analyze was set.
	Analysis Analysis

	// Err is the raster failure, if any. See IsPermanent.
	Err error

	// Canceled is true when the task completed without running.
	Canceled bool
}

// ReplyFunc receives a task's result on the scheduling goroutine.
type ReplyFunc func(t *Task, r Result)

// Task rasterizes one (tile, mode) into a resource acquired by the
// scheduling goroutine before dispatch. The worker that runs it is the
// only writer of the resource until completion is delivered.
type Task struct {
	input    Input
	resource *resource.Resource
	reply    ReplyFunc

	// result is written by the worker in Run and read by the scheduling
	// goroutine after the pool hands the task back.
	result Result

	completed bool
}

// NewTask creates a raster task. reply is invoked exactly once, on the
// goroutine that calls Rasterizer.CheckForCompletedTasks.
func NewTask(in Input, res *resource.Resource, reply ReplyFunc) *Task {
	return &Task{input: in, resource: res, reply: reply}
}

// Input returns the task snapshot.
func (t *Task) Input() Input { return t.input }

// Resource returns the resource the task writes into.
func (t *Task) Resource() *resource.Resource { return t.resource }

// HasCompleted reports whether the task's reply was delivered.
func (t *Task) HasCompleted() bool { return t.completed }

// Result returns what Run produced. It is only meaningful once Run has
// returned and the result was handed back to the scheduling goroutine.
func (t *Task) Result() Result { return t.result }

// Run rasterizes the task. It is called on a worker goroutine and never
// panics: a panicking source is reported as ErrPanic.
func (t *Task) Run() {
	t.result = t.execute()
}

func (t *Task) execute() (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	in := t.input
	if in.Source == nil {
		return Result{Err: Permanent(fmt.Errorf("tile %d has no picture source", in.TileID))}
	}

	if in.Analyze {
		if a, ok := in.Source.(Analyzer); ok {
			if analysis, known := a.AnalyzeContent(in.ContentRect, in.ContentsScale); known && analysis.SolidColor {
				return Result{Analysis: analysis}
			}
		}
	}

	dst := t.resource.RGBA()
	if dst == nil {
		return Result{Err: fmt.Errorf("%w: %s", ErrUnsupportedFormat, t.resource.Format())}
	}

	if err := in.Source.RasterTo(dst, in.ContentRect, in.ContentsScale, in.Mode); err != nil {
		return Result{Err: err}
	}

	if in.Analyze {
		view := image.Rect(0, 0, in.ContentRect.Dx(), in.ContentRect.Dy()).Intersect(dst.Bounds())
		if sub, ok := dst.SubImage(view).(*image.RGBA); ok {
			return Result{Analysis: Analyze(sub)}
		}
	}
	return Result{}
}

// Complete delivers r to the task's reply. Rasterizers call it on the
// scheduling goroutine; a second call is ignored.
func (t *Task) Complete(r Result) {
	if t.completed {
		return
	}
	t.completed = true
	if r.Err != nil {
		slogger().Debug("raster: task failed",
			"tile", t.input.TileID, "mode", t.input.Mode, "error", r.Err)
	}
	if t.reply != nil {
		t.reply(t, r)
	}
}

// TaskQueue is the ordered set of tasks submitted in one scheduling pass.
// Earlier tasks have higher priority. It is rebuilt every pass.
type TaskQueue struct {
	tasks []*Task
}

// Append adds a task at the lowest priority so far.
func (q *TaskQueue) Append(t *Task) {
	q.tasks = append(q.tasks, t)
}

// Tasks returns the queued tasks in priority order.
func (q *TaskQueue) Tasks() []*Task { return q.tasks }

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int { return len(q.tasks) }

// Reset empties the queue for the next pass.
func (q *TaskQueue) Reset() {
	clear(q.tasks)
	q.tasks = q.tasks[:0]
}
