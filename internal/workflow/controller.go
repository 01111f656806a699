package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Processor drives one task to a terminal state.
type Processor interface {
	Process(ctx context.Context, task *FileTask, cp Checkpoint) *FileTask
}

// Controller owns a batch of FileTasks and sequences them through a Processor
// one at a time, in discovery order.
//
// Tasks are mutated only by the goroutine calling Run (the worker). Observers
// on other goroutines read Progress, Summary and Tasks, which return copies.
// Cancel, Pause and Resume may be called from any goroutine; they take effect
// at the next checkpoint between pipeline stages or between files.
type Controller struct {
	outputRoot  string
	processor   Processor
	reporter    Reporter
	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	resume  *sync.Cond
	job     *BatchJob
	views   []TaskSnapshot
	current int
	paused  bool
	running bool
}

// NewController creates a Controller writing under outputRoot.
func NewController(outputRoot string, processor Processor, reporter Reporter) *Controller {
	return NewControllerWithDeps(outputRoot, processor, reporter, &uuidGenerator{}, &defaultTimeSource{})
}

// NewControllerWithDeps creates a Controller with custom dependencies for testing
func NewControllerWithDeps(outputRoot string, processor Processor, reporter Reporter, idGen IDGenerator, timeSrc TimeSource) *Controller {
	if reporter == nil {
		reporter = noopReporter{}
	}
	c := &Controller{
		outputRoot:  outputRoot,
		processor:   processor,
		reporter:    reporter,
		idGenerator: idGen,
		timeSource:  timeSrc,
		current:     -1,
	}
	c.resume = sync.NewCond(&c.mu)
	return c
}

// Start creates a batch with one pending task per file.
func (c *Controller) Start(files []string) error {
	return c.start("", files)
}

// StartDir discovers the PDF files under root and starts a batch over them.
func (c *Controller) StartDir(root string) error {
	files, err := Discover(root)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no PDF files found in %s", ErrEmptyBatch, root)
	}
	return c.start(root, files)
}

func (c *Controller) start(root string, files []string) error {
	if len(files) == 0 {
		return ErrEmptyBatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrBatchRunning
	}

	job := &BatchJob{
		ID:         c.idGenerator.Generate(),
		InputRoot:  root,
		OutputRoot: c.outputRoot,
		Tasks:      make([]*FileTask, len(files)),
		Total:      len(files),
		StartedAt:  c.timeSource.Now(),
	}
	c.views = make([]TaskSnapshot, len(files))
	for i, f := range files {
		job.Tasks[i] = NewFileTask(f)
		c.views[i] = job.Tasks[i].Snapshot()
	}
	c.job = job
	c.current = -1
	c.paused = false

	slog.Info("Started batch", "batch", job.ID, "files", job.Total, "output", c.outputRoot)
	return nil
}

// NextPending returns the first pending task, moved to processing. It returns
// false when no batch is started, the batch is cancelled or nothing is left.
func (c *Controller) NextPending() (*FileTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || c.job.Cancelled {
		return nil, false
	}
	for i, t := range c.job.Tasks {
		if t.State != StatePending {
			continue
		}
		t.State = StateProcessing
		t.StartedAt = c.timeSource.Now()
		c.current = i
		c.views[i] = t.Snapshot()
		return t, true
	}
	return nil, false
}

// CompleteCurrent counts the current task by its terminal state and clears
// the current pointer. A task still in flight is finished first: completed
// when success is true, failed otherwise.
func (c *Controller) CompleteCurrent(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || c.current < 0 {
		return
	}
	t := c.job.Tasks[c.current]
	if !t.State.Terminal() {
		now := c.timeSource.Now()
		if success {
			t.MarkCompleted(now, true)
		} else {
			t.MarkFailed(now, FailureInternal, "processing ended without a result", "")
		}
	}
	switch t.State {
	case StateCompleted:
		c.job.Completed++
	case StateFailed:
		c.job.Failed++
	}
	c.views[c.current] = t.Snapshot()
	c.current = -1
}

// Cancel stops the batch. Pending tasks are cancelled immediately; the task
// in flight is cancelled at its next checkpoint, or finishes if it is already
// saving. A batch whose tasks are all counted is left as it is.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || c.isComplete() {
		return
	}
	c.job.Cancelled = true
	now := c.timeSource.Now()
	for i, t := range c.job.Tasks {
		if i == c.current || t.State != StatePending {
			continue
		}
		if err := t.MarkCancelled(now); err == nil {
			c.views[i] = t.Snapshot()
		}
	}
	c.resume.Broadcast()
	slog.Info("Batch cancellation requested", "batch", c.job.ID)
}

// Pause holds the worker at its next checkpoint until Resume or Cancel.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume releases a paused worker.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.resume.Broadcast()
}

// proceed blocks while paused and reports whether the batch is still live.
func (c *Controller) proceed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused && !c.job.Cancelled {
		c.resume.Wait()
	}
	return !c.job.Cancelled
}

// IsComplete reports whether every task is counted or the batch was cancelled.
func (c *Controller) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isComplete()
}

func (c *Controller) isComplete() bool {
	if c.job == nil {
		return false
	}
	return c.job.Completed+c.job.Failed >= c.job.Total || c.job.Cancelled
}

// Run processes pending tasks until the batch is complete or cancelled. When
// ctx is done the batch is cancelled as by Cancel, and collaborators that
// honor ctx abort their in-flight call.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.job == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.running {
		c.mu.Unlock()
		return ErrBatchRunning
	}
	c.running = true
	batchID := c.job.ID
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.Cancel)
	defer stop()

	slog.Info("Processing batch", "batch", batchID)
	for {
		if !c.proceed() {
			slog.Info("Batch cancelled", "batch", batchID)
			break
		}
		task, ok := c.NextPending()
		if !ok {
			break
		}

		started := task.Snapshot()
		c.reporter.Report(Event{Type: EventFileStarted, BatchID: batchID, Task: &started, Progress: c.Progress()})

		c.processor.Process(ctx, task, &taskCheckpoint{c: c, batchID: batchID})

		done := task.Snapshot()
		c.CompleteCurrent(task.State == StateCompleted)
		c.reporter.Report(Event{Type: EventFileCompleted, BatchID: batchID, Task: &done, Progress: c.Progress()})
		c.reporter.Report(Event{Type: EventProgress, BatchID: batchID, Progress: c.Progress()})
	}

	c.mu.Lock()
	c.job.CompletedAt = c.timeSource.Now()
	c.running = false
	c.mu.Unlock()

	summary := c.Summary()
	slog.Info("Batch finished",
		"batch", batchID,
		"total", summary.Total,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"cancelled", summary.WasCancelled,
	)
	c.reporter.Report(Event{Type: EventBatchCompleted, BatchID: batchID, Progress: c.Progress(), Summary: &summary})
	return nil
}

// Progress returns a snapshot of the batch counters and the task in flight.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return Progress{}
	}
	processed := c.job.Completed + c.job.Failed
	p := Progress{
		BatchID:     c.job.ID,
		Total:       c.job.Total,
		Completed:   c.job.Completed,
		Failed:      c.job.Failed,
		Processed:   processed,
		Remaining:   c.job.Total - processed,
		IsComplete:  c.isComplete(),
		IsCancelled: c.job.Cancelled,
		IsPaused:    c.paused,
	}
	if c.job.Total > 0 {
		p.Percent = float64(processed) / float64(c.job.Total) * 100
	}
	if c.current >= 0 {
		p.CurrentFile = c.views[c.current].SourcePath
		p.CurrentState = c.views[c.current].State
	}
	return p
}

// Summary returns the batch outcome so far.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return Summary{Failures: []Failure{}}
	}

	s := Summary{
		BatchID:      c.job.ID,
		InputRoot:    c.job.InputRoot,
		OutputRoot:   c.job.OutputRoot,
		StartedAt:    c.job.StartedAt,
		CompletedAt:  c.job.CompletedAt,
		Total:        c.job.Total,
		Completed:    c.job.Completed,
		Failed:       c.job.Failed,
		WasCancelled: c.job.Cancelled,
		Failures:     []Failure{},
	}
	end := c.job.CompletedAt
	if end.IsZero() {
		end = c.timeSource.Now()
	}
	s.ElapsedSeconds = end.Sub(c.job.StartedAt).Seconds()
	if c.job.Total > 0 {
		s.SuccessRate = float64(c.job.Completed) / float64(c.job.Total) * 100
	}
	for _, v := range c.views {
		switch v.State {
		case StateCompleted:
			if v.ApprovalLabel == LabelApproved {
				s.Approved++
			} else {
				s.RequiresReview++
			}
		case StateFailed:
			s.Failures = append(s.Failures, Failure{SourcePath: v.SourcePath, Reason: v.FailureReason, ErrorMessage: v.ErrorMessage})
		case StateCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Tasks returns a snapshot of every task in discovery order.
func (c *Controller) Tasks() []TaskSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskSnapshot, len(c.views))
	copy(out, c.views)
	return out
}

// publish stores a fresh snapshot of the task in flight.
func (c *Controller) publish(task *FileTask) {
	snap := task.Snapshot()
	c.mu.Lock()
	if c.current >= 0 && c.job.Tasks[c.current] == task {
		c.views[c.current] = snap
	}
	c.mu.Unlock()
}

type taskCheckpoint struct {
	c       *Controller
	batchID string
}

func (t *taskCheckpoint) Proceed() bool {
	return t.c.proceed()
}

func (t *taskCheckpoint) StageChanged(task *FileTask) {
	t.c.publish(task)
	snap := task.Snapshot()
	t.c.reporter.Report(Event{Type: EventStageChanged, BatchID: t.batchID, Task: &snap, Progress: t.c.Progress()})
}
