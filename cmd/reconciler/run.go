package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-reconciler/internal/extraction"
	"github.com/zombor/invoice-reconciler/internal/reconcile"
	"github.com/zombor/invoice-reconciler/internal/server"
	"github.com/zombor/invoice-reconciler/internal/storage"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

type runConfig struct {
	root               rootConfig
	inputDir           *string
	outputDir          *string
	file               *string
	interpreter        *string
	geminiKey          *string
	geminiModel        *string
	ollamaURL          *string
	ollamaModel        *string
	llmTimeout         *time.Duration
	alwaysApprove      *bool
	assumeFullShipment *bool
	report             *bool
	listen             *string
	authUser           *string
	authPass           *string
}

func newRunCommand(parent *ff.FlagSet, root rootConfig) *ff.Command {
	fs := ff.NewFlagSet("run").SetParent(parent)
	cfg := &runConfig{
		root:               root,
		inputDir:           fs.StringLong("input-dir", "./input", "Directory holding merged invoice/PO PDFs"),
		outputDir:          fs.StringLong("output-dir", "./output", "Directory receiving one timestamped folder per batch"),
		file:               fs.StringLong("file", "", "Process a single PDF instead of a directory"),
		interpreter:        fs.StringLong("interpreter", "gemini", "Interpreter type: 'gemini' or 'ollama'"),
		geminiKey:          fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:        fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:          fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:        fs.StringLong("ollama-model", "llama3.1", "Ollama model name"),
		llmTimeout:         fs.DurationLong("llm-timeout", 120*time.Second, "Timeout for each interpreter call"),
		alwaysApprove:      fs.BoolLong("always-approve", "File every reconciled document as approved"),
		assumeFullShipment: fs.BoolLongDefault("assume-full-shipment", true, "Treat a missing or zero shipped quantity as fully shipped"),
		report:             fs.BoolLong("report", "Write summary.xlsx into the batch output folder"),
		listen:             fs.StringLong("listen", "", "Status API address, e.g. :8080 (optional)"),
		authUser:           fs.StringLong("auth-user", "", "Basic auth username for the status API (optional)"),
		authPass:           fs.StringLong("auth-pass", "", "Basic auth password for the status API (optional)"),
	}

	return &ff.Command{
		Name:      "run",
		Usage:     "reconciler run [flags]",
		ShortHelp: "reconcile every PDF in the input directory",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg.root.initLogging()
			return cfg.exec(ctx)
		},
	}
}

// newInterpreter builds the configured structured extractor
func (c *runConfig) newInterpreter(ctx context.Context) (extraction.Interpreter, error) {
	opts := extraction.Options{AssumeFullShipment: *c.assumeFullShipment}

	switch *c.interpreter {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini interpreter...", "model", *c.geminiModel)
		return extraction.NewGemini(ctx, apiKey, *c.geminiModel, *c.llmTimeout, opts)
	case "ollama":
		slog.Info("Initializing Ollama interpreter...", "url", *c.ollamaURL, "model", *c.ollamaModel)
		return extraction.NewOllama(*c.ollamaURL, *c.ollamaModel, *c.llmTimeout, opts)
	default:
		return nil, fmt.Errorf("invalid interpreter type %q: want gemini or ollama", *c.interpreter)
	}
}

func (c *runConfig) exec(ctx context.Context) error {
	interpreter, err := c.newInterpreter(ctx)
	if err != nil {
		return err
	}
	defer interpreter.Close()

	batchDir := filepath.Join(*c.outputDir, time.Now().Format("20060102-150405"))
	slog.Info("Initializing output directory...", "path", batchDir)
	files, err := storage.NewFiles(batchDir)
	if err != nil {
		return err
	}

	pipeline := workflow.NewPipeline(
		extraction.NewPDFText(),
		interpreter,
		files,
		reconcile.NewValidator(),
		workflow.PipelineOptions{AlwaysApprove: *c.alwaysApprove},
	)

	if *c.file != "" {
		return c.execFile(ctx, pipeline)
	}

	slog.Info("Initializing history database...", "path", *c.root.dbPath)
	ledger, err := storage.NewLedger(*c.root.dbPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	controller := workflow.NewController(files.Root(), pipeline, workflow.Reporters(ledger, workflow.ReporterFunc(logProgress)))
	if err := controller.StartDir(*c.inputDir); err != nil {
		return err
	}

	if err := c.runBatch(ctx, controller, ledger); err != nil {
		return err
	}

	summary := controller.Summary()
	if *c.report {
		path := filepath.Join(files.Root(), "summary.xlsx")
		if err := storage.WriteReport(path, summary, controller.Tasks()); err != nil {
			return err
		}
		slog.Info("Report written", "path", path)
	}
	printSummary(summary)
	return nil
}

// runBatch runs the worker, the optional status server and the signal
// watcher until the batch ends. The first interrupt cancels the batch at its
// next checkpoint; a second one aborts in-flight calls.
func (c *runConfig) runBatch(ctx context.Context, controller *workflow.Controller, ledger *storage.Ledger) error {
	ctx, hardStop := context.WithCancel(ctx)
	defer hardStop()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return controller.Run(gctx)
	})

	if *c.listen != "" {
		srv := server.NewServer(controller, ledger, server.BasicAuth{
			Username: *c.authUser,
			Password: *c.authPass,
		})
		if *c.authUser != "" || *c.authPass != "" {
			slog.Info("Basic auth enabled", "user", *c.authUser)
		}
		g.Go(func() error {
			srvCtx, cancel := context.WithCancel(gctx)
			defer cancel()
			go func() {
				<-done
				cancel()
			}()
			if err := srv.Start(srvCtx, *c.listen); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		watchSignals(gctx, done, controller, hardStop)
		return nil
	})

	return g.Wait()
}

// watchSignals turns interrupts into a cooperative cancel, then a hard stop
func watchSignals(ctx context.Context, done <-chan struct{}, controller *workflow.Controller, hardStop context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	interrupted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-sigChan:
			if interrupted {
				slog.Warn("Aborting in-flight file")
				hardStop()
				return
			}
			interrupted = true
			slog.Info("Cancelling batch after the current file (interrupt again to abort)")
			controller.Cancel()
		}
	}
}

// execFile reconciles one document outside of a batch
func (c *runConfig) execFile(ctx context.Context, pipeline *workflow.Pipeline) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	task := pipeline.ProcessFile(ctx, *c.file)
	snap := task.Snapshot()
	if snap.State == workflow.StateFailed {
		return fmt.Errorf("%s: %s", snap.FailureReason, snap.ErrorMessage)
	}

	fmt.Printf("%s: %s\n", filepath.Base(snap.SourcePath), snap.ApprovalLabel)
	if snap.Verdict != nil {
		for _, issue := range snap.Verdict.Issues() {
			fmt.Printf("  - %s\n", issue)
		}
	}
	fmt.Printf("Saved to %s\n", snap.OutputPDFPath)
	return nil
}

func logProgress(e workflow.Event) {
	if e.Type != workflow.EventFileCompleted || e.Task == nil {
		return
	}
	attrs := []any{
		"file", filepath.Base(e.Task.SourcePath),
		"state", e.Task.State,
		"done", fmt.Sprintf("%d/%d", e.Progress.Processed, e.Progress.Total),
	}
	if e.Task.ApprovalLabel != "" {
		attrs = append(attrs, "label", e.Task.ApprovalLabel)
	}
	if e.Task.ErrorMessage != "" {
		attrs = append(attrs, "error", e.Task.ErrorMessage)
	}
	slog.Info("File processed", attrs...)
}

func printSummary(s workflow.Summary) {
	fmt.Printf("Batch %s\n", s.BatchID)
	fmt.Printf("  Output:          %s\n", s.OutputRoot)
	fmt.Printf("  Total:           %d\n", s.Total)
	fmt.Printf("  Approved:        %d\n", s.Approved)
	fmt.Printf("  Requires review: %d\n", s.RequiresReview)
	fmt.Printf("  Failed:          %d\n", s.Failed)
	fmt.Printf("  Cancelled:       %d\n", s.Cancelled)
	fmt.Printf("  Success rate:    %.1f%%\n", s.SuccessRate)
	fmt.Printf("  Elapsed:         %.1fs\n", s.ElapsedSeconds)
	for _, f := range s.Failures {
		fmt.Printf("  ! %s: %s\n", filepath.Base(f.SourcePath), f.ErrorMessage)
	}
}
