package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/noorcart/noorcart-backend/api/middleware"
	"github.com/noorcart/noorcart-backend/api/responses"
	"github.com/noorcart/noorcart-backend/api/validators"
	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/internal/tokens"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"required,gt=0"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress types.Address         `json:"shipping_address" validate:"required"`
	PaymentMethod   string                `json:"payment_method" validate:"required"`
	PaymentTokenID  string                `json:"payment_token_id" validate:"omitempty,uuid"`
}

type checkoutResponse struct {
	SessionID   string            `json:"session_id"`
	TrackID     string            `json:"track_id"`
	Status      string            `json:"status"`
	Total       string            `json:"total"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	SDKParams   map[string]string `json:"sdk_params,omitempty"`
}

// Checkout opens a payment attempt: freezes the cart, reserves stock and
// hands the client to the gateway. If the gateway leg fails the session is
// failed immediately so the reservation does not leak. A vaulted token may
// be referenced by id; its plaintext is handed to the client inside the SDK
// parameter bag, never persisted on the session.
func Checkout(checkoutSvc checkout.Service, reconciler *payments.Reconciler, vault *tokens.Vault, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gateway, err := enums.ParsePaymentGateway(req.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment method"))
			return
		}

		// Resolve the saved card up front: a bad token id should bounce
		// before any stock is reserved.
		savedToken := ""
		if req.PaymentTokenID != "" {
			if vault == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "saved cards are not enabled"))
				return
			}
			tokenID, err := uuid.Parse(req.PaymentTokenID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment token id"))
				return
			}
			savedToken, err = vault.Reveal(r.Context(), userID, tokenID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		items := make([]checkout.ItemInput, len(req.Items))
		for i, item := range req.Items {
			items[i] = checkout.ItemInput{ProductID: item.ProductID, Qty: item.Qty}
		}

		session, err := checkoutSvc.CreateSession(r.Context(), checkout.CreateSessionInput{
			UserID:          userID,
			Items:           items,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   gateway,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		initiation, err := reconciler.Initiate(r.Context(), session)
		if err != nil {
			if failErr := checkoutSvc.FailSession(r.Context(), session.ID, "gateway initiation failed"); failErr != nil {
				logg.Error(r.Context(), "failed to close session after initiation error", failErr)
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sdkParams := initiation.SDKParams
		if savedToken != "" {
			if sdkParams == nil {
				sdkParams = map[string]string{}
			}
			sdkParams["card_token"] = savedToken
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			SessionID:   session.ID.String(),
			TrackID:     session.TrackID,
			Status:      session.Status.String(),
			Total:       session.Total.StringFixed(3),
			Currency:    "KWD",
			RedirectURL: initiation.RedirectURL,
			SDKParams:   sdkParams,
		})
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid caller id")
	}
	return userID, nil
}
