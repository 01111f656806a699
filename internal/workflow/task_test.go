package workflow_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

var _ = Describe("FileTask", func() {
	var (
		task *workflow.FileTask
		now  time.Time
	)

	BeforeEach(func() {
		task = workflow.NewFileTask("/in/a.pdf")
		now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	})

	It("starts pending", func() {
		Expect(task.State).To(Equal(workflow.StatePending))
	})

	Describe("Advance", func() {
		It("moves forward through the happy path", func() {
			for _, s := range []workflow.State{workflow.StateProcessing, workflow.StateExtracting, workflow.StateValidating, workflow.StateSaving, workflow.StateCompleted} {
				Expect(task.Advance(s)).To(Succeed())
				Expect(task.State).To(Equal(s))
			}
		})

		It("treats the current state as a no-op", func() {
			Expect(task.Advance(workflow.StateProcessing)).To(Succeed())
			Expect(task.Advance(workflow.StateProcessing)).To(Succeed())
			Expect(task.State).To(Equal(workflow.StateProcessing))
		})

		It("rejects moving backwards", func() {
			Expect(task.Advance(workflow.StateValidating)).To(Succeed())
			Expect(task.Advance(workflow.StateExtracting)).To(MatchError(workflow.ErrInvalidTransition))
			Expect(task.State).To(Equal(workflow.StateValidating))
		})

		It("rejects leaving a terminal state", func() {
			Expect(task.Advance(workflow.StateFailed)).To(Succeed())
			Expect(task.Advance(workflow.StateProcessing)).To(MatchError(workflow.ErrInvalidTransition))
			Expect(task.Advance(workflow.StateCancelled)).To(MatchError(workflow.ErrInvalidTransition))
		})

		It("allows failure from any live state", func() {
			Expect(task.Advance(workflow.StateSaving)).To(Succeed())
			Expect(task.Advance(workflow.StateFailed)).To(Succeed())
		})

		DescribeTable("cancellation",
			func(from workflow.State, allowed bool) {
				task.State = from
				err := task.Advance(workflow.StateCancelled)
				if allowed {
					Expect(err).NotTo(HaveOccurred())
					Expect(task.State).To(Equal(workflow.StateCancelled))
				} else {
					Expect(err).To(MatchError(workflow.ErrInvalidTransition))
					Expect(task.State).To(Equal(from))
				}
			},
			Entry("from pending", workflow.StatePending, true),
			Entry("from processing", workflow.StateProcessing, true),
			Entry("from extracting", workflow.StateExtracting, true),
			Entry("from validating", workflow.StateValidating, true),
			Entry("not once saving", workflow.StateSaving, false),
			Entry("not once completed", workflow.StateCompleted, false),
		)
	})

	Describe("MarkFailed", func() {
		It("records the reason and stamps completion", func() {
			task.StartedAt = now
			task.MarkFailed(now.Add(3*time.Second), workflow.FailureExtractionEmpty, "extracting a.pdf: no text extracted", "empty")

			Expect(task.State).To(Equal(workflow.StateFailed))
			Expect(task.FailureReason).To(Equal(workflow.FailureExtractionEmpty))
			Expect(task.ErrorDetail).To(Equal("empty"))
			Expect(task.CompletedAt).To(Equal(now.Add(3 * time.Second)))
			Expect(task.ElapsedSeconds).To(BeNumerically("==", 3))
		})

		It("keeps an existing terminal outcome", func() {
			task.MarkCompleted(now, true)
			task.MarkFailed(now, workflow.FailureInternal, "late", "")
			Expect(task.State).To(Equal(workflow.StateCompleted))
			Expect(task.ErrorMessage).To(BeEmpty())
		})
	})

	Describe("MarkCompleted", func() {
		It("does not complete a task without success", func() {
			task.State = workflow.StateSaving
			task.MarkCompleted(now, false)
			Expect(task.State).To(Equal(workflow.StateSaving))
			Expect(task.CompletedAt).To(Equal(now))
		})
	})

	Describe("Snapshot", func() {
		It("is unaffected by later changes", func() {
			task.ExtractedText = "hello"
			snap := task.Snapshot()
			task.State = workflow.StateExtracting
			task.ExtractedText = "hello world"

			Expect(snap.State).To(Equal(workflow.StatePending))
			Expect(snap.ExtractedChars).To(Equal(5))
		})
	})

	Describe("LabelFor", func() {
		It("maps approval to the approved label", func() {
			Expect(workflow.LabelFor(reconcile.Verdict{Approved: true})).To(Equal(workflow.LabelApproved))
			Expect(workflow.LabelFor(reconcile.Verdict{RequiresManualReview: true})).To(Equal(workflow.LabelRequiresReview))
		})
	})
})
