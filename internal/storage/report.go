package storage

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-reconciler/internal/workflow"
)

const (
	summarySheet = "Summary"
	filesSheet   = "Files"
)

var fileHeadings = []string{
	"File", "State", "Approval", "Reason", "Invoice", "PO",
	"Invoice Total", "PO Total", "Issues", "Error", "Seconds", "Extra Fees",
}

// WriteReport writes an XLSX workbook with the batch summary on one sheet and
// a row per file on another.
func WriteReport(path string, summary workflow.Summary, tasks []workflow.TaskSnapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}
	if _, err := f.NewSheet(filesSheet); err != nil {
		return fmt.Errorf("creating files sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	rows := [][]any{
		{"Batch", summary.BatchID},
		{"Input", summary.InputRoot},
		{"Output", summary.OutputRoot},
		{"Started", summary.StartedAt},
		{"Completed", summary.CompletedAt},
		{"Elapsed Seconds", summary.ElapsedSeconds},
		{"Total Files", summary.Total},
		{"Reconciled", summary.Completed},
		{"Approved", summary.Approved},
		{"Requires Review", summary.RequiresReview},
		{"Failed", summary.Failed},
		{"Cancelled", summary.Cancelled},
		{"Success Rate", fmt.Sprintf("%.1f%%", summary.SuccessRate)},
		{"Was Cancelled", summary.WasCancelled},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("writing summary row: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "A", "B", 24); err != nil {
		return fmt.Errorf("sizing summary: %w", err)
	}

	if err := f.SetSheetRow(filesSheet, "A1", &fileHeadings); err != nil {
		return fmt.Errorf("writing headings: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(fileHeadings))
	if err := f.SetCellStyle(filesSheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("styling headings: %w", err)
	}

	for i, t := range tasks {
		r := NewRecord(summary.BatchID, t)
		row := []any{
			r.SourceFile,
			string(r.State),
			string(r.ApprovalLabel),
			string(r.Reason),
			r.InvoiceNumber,
			r.PONumber,
			r.InvoiceTotal.InexactFloat64(),
			r.POTotal.InexactFloat64(),
			strings.Join(r.Issues, "\n"),
			r.ErrorMessage,
			r.ElapsedSeconds,
			r.FeesTotal.InexactFloat64(),
		}
		if err := f.SetSheetRow(filesSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("writing file row: %w", err)
		}
	}
	if err := f.SetColWidth(filesSheet, "A", "A", 40); err != nil {
		return fmt.Errorf("sizing files: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}
