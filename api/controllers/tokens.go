package controllers

import (
	"net/http"

	"github.com/noorcart/noorcart-backend/api/responses"
	"github.com/noorcart/noorcart-backend/api/validators"
	"github.com/noorcart/noorcart-backend/internal/tokens"
	"github.com/noorcart/noorcart-backend/pkg/logger"
)

type paymentTokenResponse struct {
	TokenID     string `json:"token_id"`
	Gateway     string `json:"gateway"`
	CardBrand   string `json:"card_brand,omitempty"`
	CardLast4   string `json:"card_last4,omitempty"`
	ExpiryMonth int    `json:"expiry_month,omitempty"`
	ExpiryYear  int    `json:"expiry_year,omitempty"`
	IsDefault   bool   `json:"is_default"`
}

// ListPaymentTokens returns the caller's vaulted tokens (card metadata only).
func ListPaymentTokens(vault *tokens.Vault, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		vaulted, err := vault.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]paymentTokenResponse, len(vaulted))
		for i, token := range vaulted {
			views[i] = paymentTokenResponse{
				TokenID:     token.ID.String(),
				Gateway:     token.Gateway.String(),
				CardBrand:   token.CardBrand,
				CardLast4:   token.CardLast4,
				ExpiryMonth: token.ExpiryMonth,
				ExpiryYear:  token.ExpiryYear,
				IsDefault:   token.IsDefault,
			}
		}
		responses.WriteSuccess(w, map[string]any{"tokens": views})
	}
}

// DeletePaymentToken revokes one of the caller's vaulted tokens.
func DeletePaymentToken(vault *tokens.Vault, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tokenID, err := validators.ParseUUIDParam(r, "tokenID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := vault.Revoke(r.Context(), userID, tokenID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "revoked"})
	}
}
