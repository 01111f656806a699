package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-reconciler/internal/storage"
)

func newHistoryCommand(parent *ff.FlagSet, root rootConfig) *ff.Command {
	fs := ff.NewFlagSet("history").SetParent(parent)

	return &ff.Command{
		Name:      "history",
		Usage:     "reconciler history [batch-id]",
		ShortHelp: "list earlier batches, or the files of one batch",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			root.initLogging()

			ledger, err := storage.NewLedger(*root.dbPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			if len(args) == 0 {
				return listBatches(os.Stdout, ledger)
			}
			return showBatch(os.Stdout, ledger, args[0])
		},
	}
}

func listBatches(w io.Writer, ledger *storage.Ledger) error {
	batches, err := ledger.ListBatches()
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Fprintln(w, "No batches recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tSTARTED\tTOTAL\tAPPROVED\tREVIEW\tFAILED\tCANCELLED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			b.BatchID, b.StartedAt.Format("2006-01-02 15:04:05"),
			b.Total, b.Approved, b.RequiresReview, b.Failed, b.Cancelled)
	}
	return tw.Flush()
}

func showBatch(w io.Writer, ledger *storage.Ledger, id string) error {
	summary, err := ledger.GetBatch(id)
	if err != nil {
		return err
	}
	records, err := ledger.ListRecords(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Batch %s (%s)\n\n", summary.BatchID, summary.OutputRoot)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATE\tLABEL\tINVOICE\tPO\tINVOICE TOTAL\tPO TOTAL\tDETAIL")
	for _, r := range records {
		detail := r.ErrorMessage
		if detail == "" && len(r.Issues) > 0 {
			detail = r.Issues[0]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			filepath.Base(r.SourceFile), r.State, r.ApprovalLabel,
			r.InvoiceNumber, r.PONumber,
			r.InvoiceTotal.StringFixed(2), r.POTotal.StringFixed(2), detail)
	}
	return tw.Flush()
}
