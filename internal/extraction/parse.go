package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
)

var (
	errNoJSON         = errors.New("no JSON object found in response")
	errMissingInvoice = errors.New("response has no invoice")
	errMissingPO      = errors.New("response has no purchase order")
)

type documents struct {
	Invoice       *reconcile.Invoice       `json:"invoice"`
	PurchaseOrder *reconcile.PurchaseOrder `json:"purchase_order"`
}

// parseDocuments parses a model response into both documents.
func parseDocuments(text string, opts Options) (*reconcile.Invoice, *reconcile.PurchaseOrder, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, nil, errNoJSON
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var docs documents
	if err := json.Unmarshal([]byte(text), &docs); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if docs.Invoice == nil {
		return nil, nil, errMissingInvoice
	}
	if docs.PurchaseOrder == nil {
		return nil, nil, errMissingPO
	}

	docs.Invoice.InvoiceNumber = strings.TrimSpace(docs.Invoice.InvoiceNumber)
	docs.Invoice.PONumber = strings.TrimSpace(docs.Invoice.PONumber)
	docs.PurchaseOrder.PONumber = strings.TrimSpace(docs.PurchaseOrder.PONumber)

	if opts.AssumeFullShipment {
		for i := range docs.Invoice.Items {
			item := &docs.Invoice.Items[i]
			if shipped, ok := item.Shipped(); !ok || shipped == 0 {
				item.QuantityShipped = reconcile.Quantity(item.QuantityOrdered)
			}
		}
	}

	return docs.Invoice, docs.PurchaseOrder, nil
}
