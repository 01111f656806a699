package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceTolerance is the largest absolute unit price gap still treated as agreement.
var PriceTolerance = decimal.New(1, -2)

// IdentityKind says which field of a line item is authoritative for matching.
type IdentityKind int

const (
	IdentitySKU IdentityKind = iota
	IdentityVPN
	IdentityDescription
)

func (k IdentityKind) String() string {
	switch k {
	case IdentitySKU:
		return "sku"
	case IdentityVPN:
		return "vpn"
	default:
		return "desc"
	}
}

// Identity is the matching key of a line item.
type Identity struct {
	Kind IdentityKind
	Key  string
}

func (i Identity) String() string {
	return i.Kind.String() + ":" + i.Key
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ResolveIdentity picks the SKU if present, else the VPN, else the normalized
// description.
func ResolveIdentity(item LineItem) Identity {
	if sku := strings.TrimSpace(item.SKU); sku != "" {
		return Identity{Kind: IdentitySKU, Key: sku}
	}
	if vpn := strings.TrimSpace(item.VPN); vpn != "" {
		return Identity{Kind: IdentityVPN, Key: vpn}
	}
	return Identity{Kind: IdentityDescription, Key: normalizeDescription(item.Description)}
}

// FindCounterpart returns the first purchase order line whose field of the
// identity's kind equals the identity key exactly. Fee lines never match.
func FindCounterpart(po PurchaseOrder, id Identity) (LineItem, bool) {
	idx := counterpartIndex(po, id)
	if idx < 0 {
		return LineItem{}, false
	}
	return po.Items[idx], true
}

func counterpartIndex(po PurchaseOrder, id Identity) int {
	if id.Key == "" {
		return -1
	}
	for i, item := range po.Items {
		if item.IsFee {
			continue
		}
		var key string
		switch id.Kind {
		case IdentitySKU:
			key = strings.TrimSpace(item.SKU)
		case IdentityVPN:
			key = strings.TrimSpace(item.VPN)
		default:
			key = normalizeDescription(item.Description)
		}
		if key == id.Key {
			return i
		}
	}
	return -1
}

// CompareUnitPrice reports whether two unit prices agree within PriceTolerance.
func CompareUnitPrice(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(PriceTolerance)
}

// Shipment classifies an invoice line's shipped quantity against the PO.
type Shipment int

const (
	FullShipment Shipment = iota
	PartialShipment
	ExceedsOrdered
)

func (s Shipment) String() string {
	switch s {
	case PartialShipment:
		return "partial-shipment"
	case ExceedsOrdered:
		return "exceeds-ordered"
	default:
		return "full-shipment"
	}
}

// CompareQuantities compares the invoice's shipped quantity with the quantity
// ordered on the matched PO line. An invoice line without a shipped quantity
// is assumed to have shipped what it says was ordered.
func CompareQuantities(invoiceItem, poItem LineItem) Shipment {
	shipped, ok := invoiceItem.Shipped()
	if !ok {
		shipped = invoiceItem.QuantityOrdered
	}
	switch {
	case shipped > poItem.QuantityOrdered:
		return ExceedsOrdered
	case shipped < poItem.QuantityOrdered:
		return PartialShipment
	default:
		return FullShipment
	}
}
