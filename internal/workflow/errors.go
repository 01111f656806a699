package workflow

import "errors"

var (
	// ErrEmptyBatch is returned when a batch is started without any files.
	ErrEmptyBatch = errors.New("batch has no files")
	// ErrNotStarted is returned when the controller is driven before Start.
	ErrNotStarted = errors.New("no batch started")
	// ErrBatchRunning is returned when Start or Run is called during a run.
	ErrBatchRunning = errors.New("batch is already running")
	// ErrInvalidTransition is returned for a backwards or out-of-terminal state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	ErrExtractionEmpty      = errors.New("no text extracted")
	ErrInterpretationFailed = errors.New("invoice or purchase order could not be interpreted")
	ErrPersistenceFailed    = errors.New("saving result failed")
)

// FailureReason is the short code recorded on a failed task.
type FailureReason string

const (
	FailureExtractionEmpty      FailureReason = "extraction-empty"
	FailureInterpretationFailed FailureReason = "interpretation-failed"
	FailurePersistenceFailed    FailureReason = "persistence-failed"
	FailureInternal             FailureReason = "internal-error"
)
