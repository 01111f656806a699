package workflow

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates batch IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// BatchJob is one run over a set of input files.
type BatchJob struct {
	ID          string
	InputRoot   string
	OutputRoot  string
	Tasks       []*FileTask
	Total       int
	Completed   int
	Failed      int
	Cancelled   bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Progress is a point-in-time view of a running batch.
type Progress struct {
	BatchID      string  `json:"batch_id"`
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	Processed    int     `json:"processed"`
	Remaining    int     `json:"remaining"`
	Percent      float64 `json:"percent"`
	IsComplete   bool    `json:"is_complete"`
	IsCancelled  bool    `json:"is_cancelled"`
	IsPaused     bool    `json:"is_paused"`
	CurrentFile  string  `json:"current_file,omitempty"`
	CurrentState State   `json:"current_state,omitempty"`
}

// Failure describes one file the pipeline could not reconcile.
type Failure struct {
	SourcePath   string        `json:"source_path"`
	Reason       FailureReason `json:"reason"`
	ErrorMessage string        `json:"error_message"`
}

// Summary is the batch outcome. Completed counts approved and
// requires-review files alike; Failed counts files without a verdict.
type Summary struct {
	BatchID        string    `json:"batch_id"`
	InputRoot      string    `json:"input_root,omitempty"`
	OutputRoot     string    `json:"output_root"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Total          int       `json:"total"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	Cancelled      int       `json:"cancelled"`
	Approved       int       `json:"approved"`
	RequiresReview int       `json:"requires_review"`
	SuccessRate    float64   `json:"success_rate"`
	WasCancelled   bool      `json:"was_cancelled"`
	Failures       []Failure `json:"failures"`
}
