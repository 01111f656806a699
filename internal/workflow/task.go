package workflow

import (
	"fmt"
	"time"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
)

// State is a FileTask lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateExtracting State = "extracting"
	StateValidating State = "validating"
	StateSaving     State = "saving"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// rank orders the forward path. Terminal failure states sit outside it.
var rank = map[State]int{
	StatePending:    0,
	StateProcessing: 1,
	StateExtracting: 2,
	StateValidating: 3,
	StateSaving:     4,
	StateCompleted:  5,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Cancellable reports whether a task in this state may still be cancelled.
// Once saving has started the task runs to a terminal state.
func (s State) Cancellable() bool {
	switch s {
	case StatePending, StateProcessing, StateExtracting, StateValidating:
		return true
	}
	return false
}

// ApprovalLabel decides where a processed document is filed.
type ApprovalLabel string

const (
	LabelApproved       ApprovalLabel = "APPROVED"
	LabelRequiresReview ApprovalLabel = "REQUIRES REVIEW"
)

// LabelFor maps a verdict to its approval label.
func LabelFor(v reconcile.Verdict) ApprovalLabel {
	if v.Approved {
		return LabelApproved
	}
	return LabelRequiresReview
}

// FileTask is the unit of work for one input file and the permanent record of
// its outcome. Captured documents and the verdict are written once and never
// modified afterwards.
type FileTask struct {
	SourcePath       string
	State            State
	StartedAt        time.Time
	CompletedAt      time.Time
	ExtractedText    string
	Invoice          *reconcile.Invoice
	PurchaseOrder    *reconcile.PurchaseOrder
	Verdict          *reconcile.Verdict
	OutputPDFPath    string
	OutputResultPath string
	FailureReason    FailureReason
	ErrorMessage     string
	ErrorDetail      string
	ElapsedSeconds   float64
	ApprovalLabel    ApprovalLabel
}

// NewFileTask creates a pending task for path.
func NewFileTask(path string) *FileTask {
	return &FileTask{SourcePath: path, State: StatePending}
}

// Advance moves the task forward to the given state. Moving to the current
// state is a no-op; moving backwards or out of a terminal state is an error.
func (t *FileTask) Advance(to State) error {
	if to == t.State {
		return nil
	}
	if t.State.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, t.State)
	}
	switch to {
	case StateFailed:
	case StateCancelled:
		if !t.State.Cancellable() {
			return fmt.Errorf("%w: cannot cancel while %s", ErrInvalidTransition, t.State)
		}
	default:
		next, ok := rank[to]
		if !ok || next <= rank[t.State] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
		}
	}
	t.State = to
	return nil
}

// MarkCompleted stamps the completion time and elapsed seconds. The state only
// becomes completed when success is true and the task has not already failed.
func (t *FileTask) MarkCompleted(now time.Time, success bool) {
	t.CompletedAt = now
	if !t.StartedAt.IsZero() {
		t.ElapsedSeconds = now.Sub(t.StartedAt).Seconds()
	}
	if success && !t.State.Terminal() {
		t.State = StateCompleted
	}
}

// MarkFailed records the failure and stamps completion. A task that already
// reached a terminal state keeps its original outcome.
func (t *FileTask) MarkFailed(now time.Time, reason FailureReason, message, detail string) {
	if t.State.Terminal() {
		return
	}
	t.State = StateFailed
	t.FailureReason = reason
	t.ErrorMessage = message
	t.ErrorDetail = detail
	t.MarkCompleted(now, false)
}

// MarkCancelled moves a cancellable task to the cancelled state.
func (t *FileTask) MarkCancelled(now time.Time) error {
	if err := t.Advance(StateCancelled); err != nil {
		return err
	}
	t.MarkCompleted(now, false)
	return nil
}

// TaskSnapshot is a read-only copy of a FileTask.
type TaskSnapshot struct {
	SourcePath       string                   `json:"source_path"`
	State            State                    `json:"state"`
	StartedAt        time.Time                `json:"started_at,omitempty"`
	CompletedAt      time.Time                `json:"completed_at,omitempty"`
	Invoice          *reconcile.Invoice       `json:"invoice,omitempty"`
	PurchaseOrder    *reconcile.PurchaseOrder `json:"purchase_order,omitempty"`
	Verdict          *reconcile.Verdict       `json:"verdict,omitempty"`
	OutputPDFPath    string                   `json:"output_pdf_path,omitempty"`
	OutputResultPath string                   `json:"output_result_path,omitempty"`
	FailureReason    FailureReason            `json:"failure_reason,omitempty"`
	ErrorMessage     string                   `json:"error_message,omitempty"`
	ErrorDetail      string                   `json:"error_detail,omitempty"`
	ElapsedSeconds   float64                  `json:"elapsed_seconds"`
	ApprovalLabel    ApprovalLabel            `json:"approval_label,omitempty"`
	ExtractedChars   int                      `json:"extracted_chars"`
}

// Snapshot copies the task.
func (t *FileTask) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		SourcePath:       t.SourcePath,
		State:            t.State,
		StartedAt:        t.StartedAt,
		CompletedAt:      t.CompletedAt,
		Invoice:          t.Invoice,
		PurchaseOrder:    t.PurchaseOrder,
		Verdict:          t.Verdict,
		OutputPDFPath:    t.OutputPDFPath,
		OutputResultPath: t.OutputResultPath,
		FailureReason:    t.FailureReason,
		ErrorMessage:     t.ErrorMessage,
		ErrorDetail:      t.ErrorDetail,
		ElapsedSeconds:   t.ElapsedSeconds,
		ApprovalLabel:    t.ApprovalLabel,
		ExtractedChars:   len(t.ExtractedText),
	}
}
