package payments

import (
	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

// Result is the gateway-independent verdict of a verified notification.
type Result string

const (
	ResultCaptured Result = "captured"
	ResultDeclined Result = "declined"
	ResultPending  Result = "pending"
)

// NormalizedOutcome is what every adapter reduces a gateway payload to. A
// populated outcome implies the payload authenticated; verification failures
// surface as errors, never as a declined outcome.
type NormalizedOutcome struct {
	Result        Result
	TrackID       string
	PaymentID     string
	TransactionID string
	AuthCode      string
	ReferenceCode string
	AmountPaid    decimal.Decimal
	Reason        string
	Token         *orders.TokenCapture
	Raw           types.JSONMap
}

// amountTolerance absorbs gateway rounding on the third decimal place.
var amountTolerance = decimal.NewFromFloat(0.01)

// CheckAmount gates a captured outcome on the session total. A mismatch is
// indeterminate: the money moved, the order must not exist, and a human
// investigates.
func CheckAmount(session *models.CheckoutSession, outcome *NormalizedOutcome) error {
	if outcome.Result != ResultCaptured {
		return nil
	}
	diff := outcome.AmountPaid.Sub(session.Total).Abs()
	if diff.LessThanOrEqual(amountTolerance) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeAmountMismatch,
		"paid "+outcome.AmountPaid.String()+" against total "+session.Total.String()).
		WithDetails(map[string]any{
			"amount_paid":   outcome.AmountPaid.String(),
			"session_total": session.Total.String(),
		})
}
