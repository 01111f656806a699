package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

func inputFiles(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = fmt.Sprintf("/in/invoice-%d.pdf", i+1)
	}
	return files
}

// eventLog is a Reporter that keeps every event it receives
type eventLog struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (l *eventLog) Report(e workflow.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t workflow.EventType) []workflow.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []workflow.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("Controller", func() {
	var (
		text       *mockTextExtractor
		structured *mockStructuredExtractor
		persister  *mockPersister
		events     *eventLog
		reporters  []workflow.Reporter
		controller *workflow.Controller
	)

	BeforeEach(func() {
		inv, po := matchingDocuments()
		text = &mockTextExtractor{text: "INVOICE"}
		structured = &mockStructuredExtractor{invoice: inv, po: po}
		persister = newMockPersister()
		events = &eventLog{}
		reporters = nil
	})

	JustBeforeEach(func() {
		pipeline := workflow.NewPipelineWithDeps(text, structured, persister, reconcile.NewValidator(), workflow.PipelineOptions{}, newMockTimeSource())
		all := append([]workflow.Reporter{events}, reporters...)
		controller = workflow.NewControllerWithDeps("/out", pipeline, workflow.Reporters(all...), &mockIDGenerator{id: "batch-1"}, newMockTimeSource())
	})

	Describe("Start", func() {
		It("rejects an empty batch", func() {
			Expect(controller.Start(nil)).To(MatchError(workflow.ErrEmptyBatch))
		})

		It("creates one pending task per file", func() {
			Expect(controller.Start(inputFiles(3))).To(Succeed())

			tasks := controller.Tasks()
			Expect(tasks).To(HaveLen(3))
			for _, t := range tasks {
				Expect(t.State).To(Equal(workflow.StatePending))
			}

			p := controller.Progress()
			Expect(p.BatchID).To(Equal("batch-1"))
			Expect(p.Total).To(Equal(3))
			Expect(p.Remaining).To(Equal(3))
			Expect(p.IsComplete).To(BeFalse())
		})
	})

	Describe("Run", func() {
		It("refuses to run before Start", func() {
			Expect(controller.Run(context.Background())).To(MatchError(workflow.ErrNotStarted))
		})

		When("every file reconciles", func() {
			JustBeforeEach(func() {
				Expect(controller.Start(inputFiles(3))).To(Succeed())
				Expect(controller.Run(context.Background())).To(Succeed())
			})

			It("processes the files in discovery order", func() {
				Expect(text.calls).To(Equal(inputFiles(3)))
			})

			It("completes the batch", func() {
				Expect(controller.IsComplete()).To(BeTrue())
				p := controller.Progress()
				Expect(p.Completed).To(Equal(3))
				Expect(p.Failed).To(Equal(0))
				Expect(p.Percent).To(BeNumerically("==", 100))
				Expect(p.CurrentFile).To(BeEmpty())
			})

			It("summarizes the outcome", func() {
				s := controller.Summary()
				Expect(s.Total).To(Equal(3))
				Expect(s.Approved).To(Equal(3))
				Expect(s.SuccessRate).To(BeNumerically("==", 100))
				Expect(s.WasCancelled).To(BeFalse())
				Expect(s.CompletedAt.IsZero()).To(BeFalse())
				Expect(s.ElapsedSeconds).To(BeNumerically(">", 0))
			})

			It("emits file and batch events", func() {
				Expect(events.ofType(workflow.EventFileStarted)).To(HaveLen(3))
				Expect(events.ofType(workflow.EventFileCompleted)).To(HaveLen(3))
				Expect(events.ofType(workflow.EventStageChanged)).NotTo(BeEmpty())

				done := events.ofType(workflow.EventBatchCompleted)
				Expect(done).To(HaveLen(1))
				Expect(done[0].Summary.Completed).To(Equal(3))
			})

			It("keeps the counters consistent after every file", func() {
				for _, e := range events.ofType(workflow.EventProgress) {
					Expect(e.Progress.Completed + e.Progress.Failed).To(BeNumerically("<=", e.Progress.Total))
					Expect(e.Progress.Processed).To(Equal(e.Progress.Completed + e.Progress.Failed))
				}
			})

			It("finds nothing left on a second run", func() {
				Expect(controller.Run(context.Background())).To(Succeed())
				Expect(text.calls).To(HaveLen(3))
			})

			It("ignores a cancel that arrives after the last file", func() {
				controller.Cancel()

				s := controller.Summary()
				Expect(s.WasCancelled).To(BeFalse())
				Expect(s.Completed).To(Equal(3))
				Expect(s.Cancelled).To(Equal(0))
				Expect(controller.Progress().IsCancelled).To(BeFalse())
			})
		})

		When("some files fail", func() {
			BeforeEach(func() {
				text.hook = func(_ context.Context, path string) {
					if path == "/in/invoice-2.pdf" {
						text.text = ""
					} else {
						text.text = "INVOICE"
					}
				}
			})

			JustBeforeEach(func() {
				Expect(controller.Start(inputFiles(3))).To(Succeed())
				Expect(controller.Run(context.Background())).To(Succeed())
			})

			It("counts the failure and continues", func() {
				p := controller.Progress()
				Expect(p.Completed).To(Equal(2))
				Expect(p.Failed).To(Equal(1))
				Expect(p.IsComplete).To(BeTrue())
			})

			It("lists the failure in the summary", func() {
				s := controller.Summary()
				Expect(s.Failures).To(HaveLen(1))
				Expect(s.Failures[0].SourcePath).To(Equal("/in/invoice-2.pdf"))
				Expect(s.Failures[0].Reason).To(Equal(workflow.FailureExtractionEmpty))
				Expect(s.SuccessRate).To(BeNumerically("~", 66.67, 0.01))
			})
		})

		When("cancelled after the second file completes", func() {
			BeforeEach(func() {
				completed := 0
				reporters = append(reporters, workflow.ReporterFunc(func(e workflow.Event) {
					if e.Type != workflow.EventFileCompleted {
						return
					}
					completed++
					if completed == 2 {
						controller.Cancel()
					}
				}))
			})

			JustBeforeEach(func() {
				Expect(controller.Start(inputFiles(5))).To(Succeed())
				Expect(controller.Run(context.Background())).To(Succeed())
			})

			It("cancels the remaining files", func() {
				tasks := controller.Tasks()
				Expect(tasks[0].State).To(Equal(workflow.StateCompleted))
				Expect(tasks[1].State).To(Equal(workflow.StateCompleted))
				for _, t := range tasks[2:] {
					Expect(t.State).To(Equal(workflow.StateCancelled))
				}
			})

			It("reports the cancellation", func() {
				s := controller.Summary()
				Expect(s.WasCancelled).To(BeTrue())
				Expect(s.Completed).To(Equal(2))
				Expect(s.Cancelled).To(Equal(3))
				Expect(controller.IsComplete()).To(BeTrue())
				Expect(text.calls).To(HaveLen(2))
			})
		})

		When("cancelled while a file is being interpreted", func() {
			BeforeEach(func() {
				structured.hook = func() {
					controller.Cancel()
				}
			})

			JustBeforeEach(func() {
				Expect(controller.Start(inputFiles(2))).To(Succeed())
				Expect(controller.Run(context.Background())).To(Succeed())
			})

			It("cancels the file at its next checkpoint", func() {
				tasks := controller.Tasks()
				Expect(tasks[0].State).To(Equal(workflow.StateCancelled))
				Expect(tasks[1].State).To(Equal(workflow.StateCancelled))
				Expect(persister.documents).To(BeEmpty())
			})

			It("counts neither completion nor failure", func() {
				p := controller.Progress()
				Expect(p.Completed).To(Equal(0))
				Expect(p.Failed).To(Equal(0))
				Expect(p.IsCancelled).To(BeTrue())
			})
		})

		When("cancelled while a file is being saved", func() {
			BeforeEach(func() {
				persister.hook = func() {
					controller.Cancel()
				}
			})

			JustBeforeEach(func() {
				Expect(controller.Start(inputFiles(2))).To(Succeed())
				Expect(controller.Run(context.Background())).To(Succeed())
			})

			It("lets the saving file finish", func() {
				tasks := controller.Tasks()
				Expect(tasks[0].State).To(Equal(workflow.StateCompleted))
				Expect(tasks[1].State).To(Equal(workflow.StateCancelled))
				Expect(controller.Summary().Completed).To(Equal(1))
			})
		})

		When("the context is cancelled during extraction", func() {
			var cancel context.CancelFunc

			BeforeEach(func() {
				text.hook = func(ctx context.Context, _ string) {
					cancel()
					<-ctx.Done()
					Eventually(func() bool { return controller.Progress().IsCancelled }).Should(BeTrue())
					text.extractErr = errors.New("extraction aborted")
				}
			})

			It("fails the file in flight and stops the batch", func() {
				Expect(controller.Start(inputFiles(1))).To(Succeed())

				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				Expect(controller.Run(ctx)).To(Succeed())

				task := controller.Tasks()[0]
				Expect(task.State).To(Equal(workflow.StateFailed))
				Expect(task.ErrorDetail).To(Equal("extraction aborted"))
				Expect(controller.Summary().WasCancelled).To(BeTrue())
			})
		})
	})

	Describe("Pause and Resume", func() {
		It("holds the worker until resumed", func() {
			Expect(controller.Start(inputFiles(2))).To(Succeed())
			controller.Pause()

			done := make(chan error)
			go func() {
				defer GinkgoRecover()
				done <- controller.Run(context.Background())
			}()

			Consistently(func() int { return controller.Progress().Processed }, 100*time.Millisecond).Should(Equal(0))
			Expect(controller.Progress().IsPaused).To(BeTrue())

			controller.Resume()
			Eventually(done).Should(Receive(BeNil()))
			Expect(controller.Progress().Completed).To(Equal(2))
		})

		It("releases a paused worker on Cancel", func() {
			Expect(controller.Start(inputFiles(2))).To(Succeed())
			controller.Pause()

			done := make(chan error)
			go func() {
				defer GinkgoRecover()
				done <- controller.Run(context.Background())
			}()

			controller.Cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(controller.Summary().Cancelled).To(Equal(2))
		})
	})

	Describe("observers", func() {
		It("read consistent snapshots while the batch runs", func() {
			text.hook = func(context.Context, string) {
				time.Sleep(5 * time.Millisecond)
			}
			Expect(controller.Start(inputFiles(5))).To(Succeed())

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- controller.Run(context.Background())
			}()

			var (
				seen      []workflow.Progress
				taskCount []int
				summaries []workflow.Summary
			)
			Eventually(func() bool {
				p := controller.Progress()
				seen = append(seen, p)
				taskCount = append(taskCount, len(controller.Tasks()))
				summaries = append(summaries, controller.Summary())
				return p.IsComplete
			}).WithPolling(time.Millisecond).Should(BeTrue())
			Eventually(done).Should(Receive(BeNil()))

			Expect(len(seen)).To(BeNumerically(">", 1))
			last := 0
			for _, p := range seen {
				Expect(p.Processed).To(Equal(p.Completed + p.Failed))
				Expect(p.Processed + p.Remaining).To(Equal(5))
				Expect(p.Processed).To(BeNumerically(">=", last))
				last = p.Processed
			}
			Expect(taskCount).To(HaveEach(5))
			for _, s := range summaries {
				Expect(s.Completed + s.Failed).To(BeNumerically("<=", s.Total))
				Expect(s.Approved + s.RequiresReview).To(BeNumerically("<=", s.Completed+1))
			}
			Expect(controller.Summary().Approved).To(Equal(5))
		})
	})

	Describe("snapshots", func() {
		It("are not changed by later processing", func() {
			Expect(controller.Start(inputFiles(1))).To(Succeed())
			before := controller.Tasks()
			progress := controller.Progress()

			Expect(controller.Run(context.Background())).To(Succeed())

			Expect(before[0].State).To(Equal(workflow.StatePending))
			Expect(progress.Completed).To(Equal(0))
			Expect(controller.Tasks()[0].State).To(Equal(workflow.StateCompleted))
		})
	})

	Describe("NextPending and CompleteCurrent", func() {
		It("hands out tasks one at a time", func() {
			Expect(controller.Start(inputFiles(2))).To(Succeed())

			first, ok := controller.NextPending()
			Expect(ok).To(BeTrue())
			Expect(first.State).To(Equal(workflow.StateProcessing))
			Expect(controller.Progress().CurrentFile).To(Equal("/in/invoice-1.pdf"))

			controller.CompleteCurrent(true)
			Expect(first.State).To(Equal(workflow.StateCompleted))

			second, ok := controller.NextPending()
			Expect(ok).To(BeTrue())
			Expect(second.SourcePath).To(Equal("/in/invoice-2.pdf"))
			controller.CompleteCurrent(false)
			Expect(second.FailureReason).To(Equal(workflow.FailureInternal))

			_, ok = controller.NextPending()
			Expect(ok).To(BeFalse())
			Expect(controller.IsComplete()).To(BeTrue())
			Expect(controller.Progress().Failed).To(Equal(1))
		})
	})
})

var _ = Describe("ChannelReporter", func() {
	It("delivers events until the buffer is full", func() {
		r := workflow.NewChannelReporter(1)
		r.Report(workflow.Event{Type: workflow.EventProgress})
		r.Report(workflow.Event{Type: workflow.EventBatchCompleted})

		Expect(r.Dropped()).To(Equal(int64(1)))
		Expect(r.Events()).To(Receive(HaveField("Type", workflow.EventProgress)))
		r.Close()
		Expect(r.Events()).To(BeClosed())
	})
})
