package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LineItem is a single line on an invoice or purchase order.
type LineItem struct {
	SKU             string          `json:"sku,omitempty"`
	VPN             string          `json:"vpn,omitempty"`
	Description     string          `json:"description"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	QuantityOrdered int             `json:"quantity_ordered"`
	// QuantityShipped is only meaningful on invoice lines. nil means the
	// document did not state it, which is different from zero.
	QuantityShipped *int            `json:"quantity_shipped,omitempty"`
	Total           decimal.Decimal `json:"total"`
	IsFee           bool            `json:"is_fee,omitempty"`
}

// Shipped returns the shipped quantity and whether the document stated one.
func (l LineItem) Shipped() (int, bool) {
	if l.QuantityShipped == nil {
		return 0, false
	}
	return *l.QuantityShipped, true
}

// Label is a short human readable name for the line, used in issue messages.
func (l LineItem) Label() string {
	if sku := strings.TrimSpace(l.SKU); sku != "" {
		return sku
	}
	if vpn := strings.TrimSpace(l.VPN); vpn != "" {
		return vpn
	}
	return strings.TrimSpace(l.Description)
}

// Quantity returns a pointer to n, for building LineItem.QuantityShipped.
func Quantity(n int) *int {
	return &n
}

// PurchaseOrder is the buyer's authorized order.
type PurchaseOrder struct {
	PONumber  string                     `json:"po_number"`
	Items     []LineItem                 `json:"items"`
	ExtraFees map[string]decimal.Decimal `json:"extra_fees,omitempty"`
}

// Invoice is the vendor's bill, cross-referencing a purchase order.
type Invoice struct {
	InvoiceNumber string                     `json:"invoice_number"`
	PONumber      string                     `json:"po_number"`
	Vendor        string                     `json:"vendor,omitempty"`
	Items         []LineItem                 `json:"items"`
	ExtraFees     map[string]decimal.Decimal `json:"extra_fees,omitempty"`
	IsCreditMemo  bool                       `json:"is_credit_memo"`
}
