package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
)

var tracer = otel.Tracer("github.com/zombor/invoice-reconciler/internal/workflow")

// TextExtractor reads the text layer of an input document. A document with no
// text returns an empty string, not an error.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// StructuredExtractor turns raw document text into an invoice and its purchase
// order. A nil document means interpretation failed.
type StructuredExtractor interface {
	Interpret(ctx context.Context, text string) (*reconcile.Invoice, *reconcile.PurchaseOrder, error)
}

// ResultPersister files processed documents and their verdict records.
type ResultPersister interface {
	// SaveDocument files the source document under the subtree for label and
	// returns the new path.
	SaveDocument(ctx context.Context, sourcePath string, label ApprovalLabel) (string, error)
	// SaveVerdict writes the structured result record and returns its path.
	SaveVerdict(ctx context.Context, task TaskSnapshot) (string, error)
}

// Validator decides whether an invoice agrees with its purchase order.
type Validator interface {
	Validate(inv reconcile.Invoice, po reconcile.PurchaseOrder) reconcile.Verdict
}

// Checkpoint is consulted by the pipeline between stages. Collaborator calls
// are never interrupted; cancellation takes effect at the next checkpoint, so
// the worst-case latency of a cancel is one stage.
type Checkpoint interface {
	// Proceed blocks while the batch is paused and reports whether the task
	// may continue.
	Proceed() bool
	// StageChanged is called after every state change of the task.
	StageChanged(task *FileTask)
}

type freeRunning struct{}

func (freeRunning) Proceed() bool          { return true }
func (freeRunning) StageChanged(*FileTask) {}

// PipelineOptions tunes pipeline policy.
type PipelineOptions struct {
	// AlwaysApprove files every reconciled document as approved regardless
	// of the verdict. The verdict itself is kept unchanged.
	AlwaysApprove bool
}

// Pipeline drives one FileTask through extract, interpret, validate and save.
// No timeouts are imposed here; each collaborator owns its own.
type Pipeline struct {
	text       TextExtractor
	structured StructuredExtractor
	persister  ResultPersister
	validator  Validator
	opts       PipelineOptions
	timeSource TimeSource
}

// NewPipeline creates a Pipeline with the default time source
func NewPipeline(text TextExtractor, structured StructuredExtractor, persister ResultPersister, validator Validator, opts PipelineOptions) *Pipeline {
	return NewPipelineWithDeps(text, structured, persister, validator, opts, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a Pipeline with a custom time source for testing
func NewPipelineWithDeps(text TextExtractor, structured StructuredExtractor, persister ResultPersister, validator Validator, opts PipelineOptions, timeSrc TimeSource) *Pipeline {
	return &Pipeline{
		text:       text,
		structured: structured,
		persister:  persister,
		validator:  validator,
		opts:       opts,
		timeSource: timeSrc,
	}
}

// ProcessFile runs a single file outside of any batch.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) *FileTask {
	task := NewFileTask(path)
	task.State = StateProcessing
	task.StartedAt = p.timeSource.Now()
	return p.Process(ctx, task, nil)
}

// Process mutates and returns task. Failures are recorded on the task and
// never returned or propagated as panics.
func (p *Pipeline) Process(ctx context.Context, task *FileTask, cp Checkpoint) (result *FileTask) {
	if cp == nil {
		cp = freeRunning{}
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = p.timeSource.Now()
	}

	ctx, span := tracer.Start(ctx, "reconcile.file", trace.WithAttributes(attribute.String("file", task.SourcePath)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline panic", "file", task.SourcePath, "panic", r)
			p.fail(span, task, FailureInternal, fmt.Sprintf("processing %s: panic", filepath.Base(task.SourcePath)), fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			cp.StageChanged(task)
			result = task
		}
	}()

	name := filepath.Base(task.SourcePath)
	slog.Info("Processing file", "file", task.SourcePath)

	// Text extraction
	if !p.enter(span, task, StateExtracting, cp) {
		return task
	}
	text, err := p.runStage(ctx, "extract", func(ctx context.Context) (string, error) {
		return p.text.Extract(ctx, task.SourcePath)
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrExtractionEmpty
	}
	if err != nil {
		p.fail(span, task, FailureExtractionEmpty, fmt.Sprintf("extracting %s: %v", name, ErrExtractionEmpty), err)
		cp.StageChanged(task)
		return task
	}
	task.ExtractedText = text
	slog.Info("Extracted text", "file", task.SourcePath, "chars", len(text))

	// Interpretation into invoice and purchase order
	if !p.enter(span, task, StateExtracting, cp) {
		return task
	}
	var inv *reconcile.Invoice
	var po *reconcile.PurchaseOrder
	_, err = p.runStage(ctx, "interpret", func(ctx context.Context) (string, error) {
		var ierr error
		inv, po, ierr = p.structured.Interpret(ctx, text)
		return "", ierr
	})
	if err == nil && (inv == nil || po == nil) {
		err = ErrInterpretationFailed
	}
	if err != nil {
		p.fail(span, task, FailureInterpretationFailed, fmt.Sprintf("interpreting %s: %v", name, ErrInterpretationFailed), err)
		cp.StageChanged(task)
		return task
	}
	task.Invoice = inv
	task.PurchaseOrder = po
	slog.Info("Interpreted documents", "file", task.SourcePath, "invoice", inv.InvoiceNumber, "po", po.PONumber)

	// Validation
	if !p.enter(span, task, StateValidating, cp) {
		return task
	}
	verdict := p.validator.Validate(*inv, *po)
	task.Verdict = &verdict
	task.ApprovalLabel = LabelFor(verdict)
	if p.opts.AlwaysApprove {
		task.ApprovalLabel = LabelApproved
	}
	span.SetAttributes(attribute.String("reason", string(verdict.Reason)), attribute.String("label", string(task.ApprovalLabel)))
	for _, issue := range verdict.Issues() {
		slog.Info("Validation issue", "file", task.SourcePath, "issue", issue)
	}

	// Saving. This is the last checkpoint; once saving starts the task runs
	// to a terminal state.
	if !p.enter(span, task, StateSaving, cp) {
		return task
	}
	outPath, err := p.runStage(ctx, "save-document", func(ctx context.Context) (string, error) {
		return p.persister.SaveDocument(ctx, task.SourcePath, task.ApprovalLabel)
	})
	if err != nil {
		p.fail(span, task, FailurePersistenceFailed, fmt.Sprintf("saving %s: %v", name, ErrPersistenceFailed), err)
		cp.StageChanged(task)
		return task
	}
	task.OutputPDFPath = outPath

	task.ElapsedSeconds = p.timeSource.Now().Sub(task.StartedAt).Seconds()
	resultPath, err := p.runStage(ctx, "save-verdict", func(ctx context.Context) (string, error) {
		return p.persister.SaveVerdict(ctx, task.Snapshot())
	})
	if err != nil {
		p.fail(span, task, FailurePersistenceFailed, fmt.Sprintf("recording result for %s: %v", name, ErrPersistenceFailed), err)
		cp.StageChanged(task)
		return task
	}
	task.OutputResultPath = resultPath

	task.MarkCompleted(p.timeSource.Now(), true)
	cp.StageChanged(task)
	slog.Info("Processed file", "file", task.SourcePath, "label", task.ApprovalLabel, "reason", verdict.Reason, "output", outPath)
	return task
}

// enter is the checkpoint before a stage. It returns false when the task was
// cancelled instead.
func (p *Pipeline) enter(span trace.Span, task *FileTask, state State, cp Checkpoint) bool {
	if !cp.Proceed() {
		if err := task.MarkCancelled(p.timeSource.Now()); err == nil {
			slog.Info("File cancelled", "file", task.SourcePath, "before", state)
			span.AddEvent("cancelled")
			cp.StageChanged(task)
			return false
		}
	}
	if err := task.Advance(state); err != nil {
		p.fail(span, task, FailureInternal, "advancing task", err)
		cp.StageChanged(task)
		return false
	}
	span.AddEvent(string(state))
	cp.StageChanged(task)
	return true
}

func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := tracer.Start(ctx, "reconcile."+name)
	defer span.End()
	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (p *Pipeline) fail(span trace.Span, task *FileTask, reason FailureReason, message string, cause error) {
	slog.Error("Failed to process file", "file", task.SourcePath, "reason", reason, "error", cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(reason))
	task.MarkFailed(p.timeSource.Now(), reason, message, cause.Error())
}
