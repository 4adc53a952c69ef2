package controllers

import (
	"net/http"

	"github.com/noorcart/noorcart-backend/api/responses"
	"github.com/noorcart/noorcart-backend/api/validators"
	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/pagination"
)

type orderItemResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

type orderResponse struct {
	OrderID       string              `json:"order_id"`
	SessionID     string              `json:"session_id"`
	PaymentStatus string              `json:"payment_status"`
	Total         string              `json:"total"`
	TransactionID string              `json:"transaction_id,omitempty"`
	ReferenceCode string              `json:"reference_code,omitempty"`
	Items         []orderItemResponse `json:"items"`
	CreatedAt     string              `json:"created_at"`
}

// GetOrder returns one of the caller's orders.
func GetOrder(repo orders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := repo.FindByID(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order.UserID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, orderView(order))
	}
}

// ListOrders returns the caller's orders, newest first.
func ListOrders(repo orders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, next, err := repo.ListByUser(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]orderResponse, len(page))
		for i := range page {
			views[i] = orderView(&page[i])
		}
		responses.WriteSuccess(w, map[string]any{"orders": views, "next_cursor": next})
	}
}

func orderView(order *models.Order) orderResponse {
	view := orderResponse{
		OrderID:       order.ID.String(),
		SessionID:     order.CheckoutSessionID.String(),
		PaymentStatus: order.PaymentStatus.String(),
		Total:         order.Total.StringFixed(3),
		CreatedAt:     order.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Items:         make([]orderItemResponse, len(order.Items)),
	}
	if order.TransactionID != nil {
		view.TransactionID = *order.TransactionID
	}
	if order.ReferenceCode != nil {
		view.ReferenceCode = *order.ReferenceCode
	}
	for i, item := range order.Items {
		view.Items[i] = orderItemResponse{
			ProductID: item.ProductID.String(),
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice.StringFixed(3),
			Total:     item.Total.StringFixed(3),
		}
	}
	return view
}
