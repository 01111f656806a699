package extraction

import (
	"context"
	"encoding/json"

	"github.com/zombor/invoice-reconciler/internal/reconcile"
)

// Interpreter turns extracted document text into an invoice and its purchase
// order.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (*reconcile.Invoice, *reconcile.PurchaseOrder, error)
	// Close releases the interpreter's client.
	Close() error
}

// Options tunes how model output is turned into documents.
type Options struct {
	// AssumeFullShipment sets an invoice line's shipped quantity to its
	// ordered quantity when the document omits it or states zero.
	AssumeFullShipment bool
}

// systemPrompt is shared by all LLM providers
const systemPrompt = `You are an expert at extracting structured invoice and purchase order data from merged PDF text.

Extract invoice and PO information from the provided text. The text may contain both an invoice and a purchase order.

For items in invoices: include both quantity_ordered and quantity_shipped (may be different for partial shipments).
For items in purchase orders: only include quantity_ordered (quantity_shipped should be null).
Mark shipping, handling and similar charges that appear as line items with is_fee set to true.
Set is_credit_memo to true only when the document is a credit memo or credit note.

Return valid JSON with the specified schema.`

// fallbackPrompt is used when a provider rejects schema-constrained output.
func fallbackPrompt() string {
	schema, _ := json.MarshalIndent(documentSchema(), "", "  ")
	return systemPrompt + "\n\n" +
		"You MUST return a JSON object following this exact schema (with NO code block wrappers like ```json):\n" +
		string(schema) + "\n\n" +
		"Return ONLY the JSON object, no additional text or formatting."
}

func itemSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sku":              map[string]any{"type": []string{"string", "null"}},
			"vpn":              map[string]any{"type": []string{"string", "null"}},
			"description":      map[string]any{"type": "string"},
			"unit_price":       map[string]any{"type": "number"},
			"quantity_ordered": map[string]any{"type": "integer"},
			"quantity_shipped": map[string]any{"type": []string{"integer", "null"}},
			"total":            map[string]any{"type": "number"},
			"is_fee":           map[string]any{"type": "boolean"},
		},
		"required": []string{"description", "unit_price", "quantity_ordered", "total"},
	}
}

func feesSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": map[string]any{"type": "number"},
	}
}

// documentSchema is the JSON schema of the model's answer.
func documentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invoice": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"invoice_number": map[string]any{"type": "string"},
					"po_number":      map[string]any{"type": "string"},
					"vendor":         map[string]any{"type": "string"},
					"items":          map[string]any{"type": "array", "items": itemSchema()},
					"extra_fees":     feesSchema(),
					"is_credit_memo": map[string]any{"type": "boolean"},
				},
				"required": []string{"invoice_number", "po_number", "items"},
			},
			"purchase_order": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"po_number":  map[string]any{"type": "string"},
					"items":      map[string]any{"type": "array", "items": itemSchema()},
					"extra_fees": feesSchema(),
				},
				"required": []string{"po_number", "items"},
			},
		},
		"required": []string{"invoice", "purchase_order"},
	}
}
