package storage

import (
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

// Record is the structured outcome of one file. It is written next to the
// filed document and kept in the history ledger.
type Record struct {
	BatchID        string                     `json:"batch_id,omitempty"`
	SourceFile     string                     `json:"source_file"`
	State          workflow.State             `json:"state,omitempty"`
	ApprovalLabel  workflow.ApprovalLabel     `json:"approval_label,omitempty"`
	Reason         reconcile.Reason           `json:"reason,omitempty"`
	Issues         []string                   `json:"issues"`
	Notes          []string                   `json:"notes,omitempty"`
	InvoiceNumber  string                     `json:"invoice_number"`
	PONumber       string                     `json:"po_number"`
	Vendor         string                     `json:"vendor,omitempty"`
	InvoiceTotal   decimal.Decimal            `json:"invoice_total"`
	POTotal        decimal.Decimal            `json:"po_total"`
	ExtraFees      map[string]decimal.Decimal `json:"extra_fees,omitempty"`
	FeesTotal      decimal.Decimal            `json:"fees_total"`
	ElapsedSeconds float64                    `json:"elapsed_seconds"`
	OutputPDFPath  string                     `json:"output_pdf_path,omitempty"`
	ResultPath     string                     `json:"result_path,omitempty"`
	FailureReason  workflow.FailureReason     `json:"failure_reason,omitempty"`
	ErrorMessage   string                     `json:"error_message,omitempty"`
	ErrorDetail    string                     `json:"error_detail,omitempty"`
	Invoice        *reconcile.Invoice         `json:"invoice,omitempty"`
	PurchaseOrder  *reconcile.PurchaseOrder   `json:"purchase_order,omitempty"`
	Verdict        *reconcile.Verdict         `json:"verdict,omitempty"`
}

// NewRecord builds the record for a task snapshot.
func NewRecord(batchID string, task workflow.TaskSnapshot) Record {
	r := Record{
		BatchID:        batchID,
		SourceFile:     task.SourcePath,
		State:          task.State,
		ApprovalLabel:  task.ApprovalLabel,
		Issues:         []string{},
		ElapsedSeconds: task.ElapsedSeconds,
		OutputPDFPath:  task.OutputPDFPath,
		ResultPath:     task.OutputResultPath,
		FailureReason:  task.FailureReason,
		ErrorMessage:   task.ErrorMessage,
		ErrorDetail:    task.ErrorDetail,
		Invoice:        task.Invoice,
		PurchaseOrder:  task.PurchaseOrder,
		Verdict:        task.Verdict,
	}
	if task.Invoice != nil {
		r.InvoiceNumber = task.Invoice.InvoiceNumber
		r.Vendor = task.Invoice.Vendor
		r.PONumber = task.Invoice.PONumber
	}
	if task.PurchaseOrder != nil && r.PONumber == "" {
		r.PONumber = task.PurchaseOrder.PONumber
	}
	if task.Verdict != nil {
		r.Reason = task.Verdict.Reason
		r.Issues = append(r.Issues, task.Verdict.Issues()...)
		r.Notes = task.Verdict.Notes
		r.InvoiceTotal = task.Verdict.InvoiceTotal
		r.POTotal = task.Verdict.POTotal
		r.ExtraFees = task.Verdict.ExtraFees
		r.FeesTotal = task.Verdict.FeesTotal()
	}
	return r
}
