package types

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionItem is one line of the cart snapshot frozen at session creation.
// Prices are copied, never recomputed from live catalog state.
type SessionItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"image_url,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SessionItems is the jsonb-serialized snapshot column type.
type SessionItems []SessionItem

// Subtotal sums qty × unit price over all items.
func (items SessionItems) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total
}
