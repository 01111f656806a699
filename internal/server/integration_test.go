package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
	"github.com/zombor/invoice-reconciler/internal/storage"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

// fileText treats the file contents as the extracted text layer
type fileText struct{}

func (fileText) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// cannedInterpreter returns the documents registered for an extracted text
type cannedInterpreter struct {
	documents map[string]func() (*reconcile.Invoice, *reconcile.PurchaseOrder)
}

func (c *cannedInterpreter) Interpret(ctx context.Context, text string) (*reconcile.Invoice, *reconcile.PurchaseOrder, error) {
	build, ok := c.documents[text]
	if !ok {
		return nil, nil, nil
	}
	inv, po := build()
	return inv, po, nil
}

func orderFor(number string, price string) func() (*reconcile.Invoice, *reconcile.PurchaseOrder) {
	return func() (*reconcile.Invoice, *reconcile.PurchaseOrder) {
		inv := &reconcile.Invoice{
			InvoiceNumber: "INV-" + number,
			PONumber:      "PO-" + number,
			Items: []reconcile.LineItem{
				{SKU: "X1", Description: "Widget", UnitPrice: decimal.RequireFromString(price), QuantityOrdered: 2, QuantityShipped: reconcile.Quantity(2)},
			},
		}
		po := &reconcile.PurchaseOrder{
			PONumber: "PO-" + number,
			Items: []reconcile.LineItem{
				{SKU: "X1", Description: "Widget", UnitPrice: decimal.RequireFromString("10.00"), QuantityOrdered: 2},
			},
		}
		return inv, po
	}
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	ExpectWithOffset(1, json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Integration", func() {
	var (
		inputDir    string
		outputRoot  string
		ledger      *storage.Ledger
		controller  *workflow.Controller
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		tmpDir := GinkgoT().TempDir()
		inputDir = filepath.Join(tmpDir, "input")
		outputRoot = filepath.Join(tmpDir, "output")
		Expect(os.MkdirAll(inputDir, 0755)).To(Succeed())

		Expect(os.WriteFile(filepath.Join(inputDir, "a.pdf"), []byte("order one"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(inputDir, "b.pdf"), []byte("order two"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(inputDir, "c.pdf"), []byte("   "), 0644)).To(Succeed())

		files, err := storage.NewFiles(outputRoot)
		Expect(err).NotTo(HaveOccurred())

		ledger, err = storage.NewLedger(filepath.Join(tmpDir, "history.db"))
		Expect(err).NotTo(HaveOccurred())

		interpreter := &cannedInterpreter{documents: map[string]func() (*reconcile.Invoice, *reconcile.PurchaseOrder){
			"order one": orderFor("1", "10.00"),
			"order two": orderFor("2", "12.00"),
		}}
		pipeline := workflow.NewPipeline(fileText{}, interpreter, files, reconcile.NewValidator(), workflow.PipelineOptions{})
		controller = workflow.NewController(outputRoot, pipeline, ledger)

		Expect(controller.StartDir(inputDir)).To(Succeed())
		Expect(controller.Run(context.Background())).To(Succeed())

		srv := NewServerWithMux(controller, ledger, BasicAuth{}, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(srv.ServeHTTP, srv.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
		ledger.Close()
	})

	It("files each document by its verdict", func() {
		Expect(filepath.Join(outputRoot, "approved", "a.pdf")).To(BeAnExistingFile())
		Expect(filepath.Join(outputRoot, "review", "b.pdf")).To(BeAnExistingFile())
		Expect(filepath.Join(outputRoot, "result", "a.json")).To(BeAnExistingFile())
		Expect(filepath.Join(outputRoot, "result", "b.json")).To(BeAnExistingFile())
		Expect(filepath.Join(outputRoot, "review", "c.pdf")).NotTo(BeAnExistingFile())
	})

	It("reports the batch outcome", func() {
		summary := controller.Summary()
		Expect(summary.Total).To(Equal(3))
		Expect(summary.Completed).To(Equal(2))
		Expect(summary.Failed).To(Equal(1))
		Expect(summary.Approved).To(Equal(1))
		Expect(summary.RequiresReview).To(Equal(1))
		Expect(summary.Failures).To(HaveLen(1))
		Expect(summary.Failures[0].Reason).To(Equal(workflow.FailureExtractionEmpty))
	})

	It("serves the finished batch and its history", func() {
		resp, err := http.Get(ghttpServer.URL() + "/api/progress")
		Expect(err).NotTo(HaveOccurred())
		var progress workflow.Progress
		decodeBody(resp, &progress)
		Expect(progress.IsComplete).To(BeTrue())
		Expect(progress.Percent).To(BeNumerically("==", 100))

		batchID := controller.Summary().BatchID
		resp, err = http.Get(ghttpServer.URL() + "/api/history/" + batchID)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var detail batchDetail
		decodeBody(resp, &detail)
		Expect(detail.Summary.Total).To(Equal(3))
		Expect(detail.Records).To(HaveLen(3))
		Expect(detail.Records[1].ApprovalLabel).To(Equal(workflow.LabelRequiresReview))
		Expect(detail.Records[1].Issues).NotTo(BeEmpty())
	})
})
