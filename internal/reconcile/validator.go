package reconcile

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// Reason is the short code explaining a verdict.
type Reason string

const (
	ReasonMatches          Reason = "matches"
	ReasonPONumberMismatch Reason = "po-number-mismatch"
	ReasonCreditMemo       Reason = "credit-memo"
	ReasonUnmatchedItems   Reason = "unmatched-items"
	ReasonValidationErrors Reason = "validation-errors"
)

// Verdict is the outcome of reconciling an invoice against its purchase order.
// Approved implies Errors is empty.
type Verdict struct {
	Approved             bool                       `json:"approved"`
	RequiresManualReview bool                       `json:"requires_manual_review"`
	Reason               Reason                     `json:"reason"`
	Details              string                     `json:"details,omitempty"`
	Warnings             []string                   `json:"warnings"`
	Errors               []string                   `json:"errors"`
	Notes                []string                   `json:"notes"`
	Unmatched            []string                   `json:"unmatched,omitempty"`
	InvoiceTotal         decimal.Decimal            `json:"invoice_total"`
	POTotal              decimal.Decimal            `json:"po_total"`
	// ExtraFees holds the invoice's stated fees plus the totals of its fee
	// lines, keyed by line label.
	ExtraFees            map[string]decimal.Decimal `json:"extra_fees"`
}

// Issues returns warnings followed by errors.
func (v Verdict) Issues() []string {
	issues := make([]string, 0, len(v.Warnings)+len(v.Errors))
	issues = append(issues, v.Warnings...)
	return append(issues, v.Errors...)
}

// FeesTotal sums ExtraFees.
func (v Verdict) FeesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, fee := range v.ExtraFees {
		total = total.Add(fee)
	}
	return total
}

// Validator applies the reconciliation business rules. It holds no state
// between calls, so validating the same documents twice yields the same verdict.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate reconciles an invoice against a purchase order. The checks run in a
// fixed order and the first failing gate decides the reason code.
func (v *Validator) Validate(inv Invoice, po PurchaseOrder) Verdict {
	verdict := Verdict{
		Warnings:     []string{},
		Errors:       []string{},
		Notes:        []string{},
		InvoiceTotal: decimal.Zero,
		POTotal:      decimal.Zero,
		ExtraFees:    make(map[string]decimal.Decimal, len(inv.ExtraFees)),
	}
	for name, fee := range inv.ExtraFees {
		verdict.ExtraFees[name] = fee
	}
	for _, item := range inv.Items {
		if item.IsFee {
			name := item.Label()
			if name == "" {
				name = "Fee"
			}
			verdict.ExtraFees[name] = verdict.ExtraFees[name].Add(item.Total)
		}
	}

	if inv.PONumber != po.PONumber {
		slog.Warn("PO number mismatch", "invoice_po", inv.PONumber, "po", po.PONumber)
		verdict.RequiresManualReview = true
		verdict.Reason = ReasonPONumberMismatch
		verdict.Details = fmt.Sprintf("invoice references %q, purchase order is %q", inv.PONumber, po.PONumber)
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("PO number mismatch: invoice %s vs PO %s", inv.PONumber, po.PONumber))
		return verdict
	}

	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		verdict.Errors = append(verdict.Errors, "Missing invoice number")
	}
	if strings.TrimSpace(po.PONumber) == "" {
		verdict.Errors = append(verdict.Errors, "Missing PO number")
	}

	matched := make(map[int]bool, len(po.Items))
	var unmatched []string
	for _, item := range inv.Items {
		if item.IsFee {
			verdict.Notes = append(verdict.Notes, fmt.Sprintf("Item %q is a fee, skipped", item.Description))
			continue
		}

		shipped, ok := item.Shipped()
		if !ok {
			shipped = item.QuantityOrdered
		}
		verdict.InvoiceTotal = verdict.InvoiceTotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(shipped))))

		id := ResolveIdentity(item)
		idx := counterpartIndex(po, id)
		if idx < 0 {
			desc := strings.TrimSpace(item.Description)
			if desc == "" {
				desc = item.Label()
			}
			unmatched = append(unmatched, desc)
			verdict.Errors = append(verdict.Errors, fmt.Sprintf("Item %s in invoice but not in PO", item.Label()))
			continue
		}
		matched[idx] = true
		poItem := po.Items[idx]

		if !CompareUnitPrice(item.UnitPrice, poItem.UnitPrice) {
			verdict.Errors = append(verdict.Errors, fmt.Sprintf("Unit price mismatch for %s: invoice %s vs PO %s",
				item.Label(), item.UnitPrice.StringFixed(2), poItem.UnitPrice.StringFixed(2)))
		}

		switch CompareQuantities(item, poItem) {
		case ExceedsOrdered:
			verdict.Errors = append(verdict.Errors, fmt.Sprintf("Over-shipment for %s: shipped %d exceeds ordered %d",
				item.Label(), shipped, poItem.QuantityOrdered))
		case PartialShipment:
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Partial shipment for %s: shipped %d of %d ordered",
				item.Label(), shipped, poItem.QuantityOrdered))
		}
	}

	for i, item := range po.Items {
		if item.IsFee {
			continue
		}
		verdict.POTotal = verdict.POTotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.QuantityOrdered))))
		if !matched[i] {
			verdict.Notes = append(verdict.Notes, fmt.Sprintf("Item %s in PO but not delivered in invoice (partial delivery)", item.Label()))
		}
	}

	verdict.Unmatched = unmatched

	switch {
	case inv.IsCreditMemo:
		verdict.RequiresManualReview = true
		verdict.Reason = ReasonCreditMemo
		verdict.Details = "credit memos always require manual review"
	case len(unmatched) > 0:
		verdict.RequiresManualReview = true
		verdict.Reason = ReasonUnmatchedItems
		verdict.Details = strings.Join(unmatched, "; ")
	case len(verdict.Errors) > 0:
		verdict.RequiresManualReview = true
		verdict.Reason = ReasonValidationErrors
		verdict.Details = fmt.Sprintf("%d validation error(s)", len(verdict.Errors))
	default:
		verdict.Approved = true
		verdict.Reason = ReasonMatches
	}

	slog.Info("Validation complete",
		"invoice", inv.InvoiceNumber,
		"po", po.PONumber,
		"reason", verdict.Reason,
		"warnings", len(verdict.Warnings),
		"errors", len(verdict.Errors),
	)
	return verdict
}
