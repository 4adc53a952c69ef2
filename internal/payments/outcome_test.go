package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noorcart/noorcart-backend/pkg/db/models"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

func TestCheckAmountToleranceBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		total string
		paid  string
		ok    bool
	}{
		{"exact", "2.000", "2.000", true},
		{"within tolerance above", "2.000", "2.010", true},
		{"within tolerance below", "2.000", "1.990", true},
		{"just outside", "2.000", "2.020", false},
		{"rounding drift", "2.000", "2.050", false},
		{"gross mismatch", "2.000", "20.000", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := &models.CheckoutSession{Total: decimal.RequireFromString(tc.total)}
			outcome := &NormalizedOutcome{
				Result:     ResultCaptured,
				AmountPaid: decimal.RequireFromString(tc.paid),
			}
			err := CheckAmount(session, outcome)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			require.Equal(t, pkgerrors.CodeAmountMismatch, typed.Code())
			require.True(t, pkgerrors.IsIndeterminate(err))
		})
	}
}

func TestCheckAmountIgnoresNonCapturedOutcomes(t *testing.T) {
	t.Parallel()

	session := &models.CheckoutSession{Total: decimal.RequireFromString("2.000")}
	for _, result := range []Result{ResultDeclined, ResultPending} {
		err := CheckAmount(session, &NormalizedOutcome{Result: result, AmountPaid: decimal.Zero})
		require.NoError(t, err)
	}
}
