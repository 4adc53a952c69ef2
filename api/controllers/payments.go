package controllers

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noorcart/noorcart-backend/api/responses"
	"github.com/noorcart/noorcart-backend/api/validators"
	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type paymentResultResponse struct {
	Result  string `json:"result"`
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Total     string `json:"total"`
	OrderID   string `json:"order_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PaymentReturn handles the browser redirect back from a gateway. The query
// payload is verified before it is allowed to decide anything.
func PaymentReturn(reconciler *payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gateway, err := gatewayParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resolution, err := reconciler.HandleReturn(r.Context(), gateway, r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resultView(resolution))
	}
}

// PaymentWebhook handles server-to-server notifications. The response is
// always success-shaped: a processing failure is logged and retried by the
// gateway, never surfaced as an error envelope it might misread.
func PaymentWebhook(reconciler *payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gateway, err := gatewayParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read webhook body"))
			return
		}

		if _, err := reconciler.HandleWebhook(r.Context(), gateway, body); err != nil {
			logg.Error(r.Context(), "webhook processing failed", err)
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

// PaymentPoll runs the client-initiated confirmation loop for a session.
func PaymentPoll(reconciler *payments.Reconciler, checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Owner check before any gateway chatter.
		if _, err := checkoutSvc.GetSession(r.Context(), sessionID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resolution, err := reconciler.Poll(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resultView(resolution))
	}
}

// GetPaymentSession returns the shopper-facing snapshot of a session.
func GetPaymentSession(checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := checkoutSvc.GetSession(r.Context(), sessionID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sessionView(session))
	}
}

// CancelPaymentSession abandons an open session and releases its stock.
func CancelPaymentSession(checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := checkoutSvc.CancelSession(r.Context(), sessionID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(enums.SessionStatusCancelled)})
	}
}

// RetryPaymentSession regenerates the gateway reference for a new attempt on
// the same open session.
func RetryPaymentSession(checkoutSvc checkout.Service, reconciler *payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := checkoutSvc.GetSession(r.Context(), sessionID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := checkoutSvc.RetryReference(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		initiation, err := reconciler.Initiate(r.Context(), session)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, checkoutResponse{
			SessionID:   session.ID.String(),
			TrackID:     session.TrackID,
			Status:      session.Status.String(),
			Total:       session.Total.StringFixed(3),
			Currency:    "KWD",
			RedirectURL: initiation.RedirectURL,
			SDKParams:   initiation.SDKParams,
		})
	}
}

type sessionEventRequest struct {
	Kind  string `json:"kind" validate:"required"`
	Value string `json:"value"`
}

// RecordSessionEvent appends a client-side diagnostic event (wallet SDK flow
// markers) to the session log.
func RecordSessionEvent(checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req sessionEventRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind, err := enums.ParseSessionEventKind(req.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown event kind"))
			return
		}
		if _, err := checkoutSvc.GetSession(r.Context(), sessionID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := checkoutSvc.RecordEvent(r.Context(), sessionID, kind, req.Value); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"kind": kind.String()})
	}
}

type sessionEventView struct {
	Kind       string `json:"kind"`
	Value      string `json:"value,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// ListSessionEvents returns the diagnostic trail recorded for one of the
// caller's sessions, oldest first.
func ListSessionEvents(checkoutSvc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID, err := validators.ParseUUIDParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := checkoutSvc.SessionEvents(r.Context(), sessionID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]sessionEventView, len(events))
		for i, event := range events {
			views[i] = sessionEventView{
				Kind:       event.Kind.String(),
				Value:      event.Value,
				RecordedAt: event.CreatedAt.UTC().Format(time.RFC3339),
			}
		}
		responses.WriteSuccess(w, map[string]any{"events": views})
	}
}

func gatewayParam(r *http.Request) (enums.PaymentGateway, error) {
	raw := chi.URLParam(r, "gateway")
	gateway, err := enums.ParsePaymentGateway(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown gateway")
	}
	return gateway, nil
}

func resultView(resolution *payments.Resolution) paymentResultResponse {
	view := paymentResultResponse{Result: "pending"}
	if resolution == nil {
		return view
	}
	if resolution.Order != nil {
		view.Result = "success"
		view.OrderID = resolution.Order.ID.String()
		return view
	}
	if resolution.Settled {
		session := resolution.Session
		if session != nil && session.Status == enums.SessionStatusPaid {
			view.Result = "success"
			if session.OrderID != nil {
				view.OrderID = session.OrderID.String()
			}
			return view
		}
		view.Result = "failed"
		view.Reason = "payment failed, your cart is intact"
		return view
	}
	view.Reason = "payment is still being confirmed"
	return view
}

func sessionView(session *models.CheckoutSession) sessionResponse {
	view := sessionResponse{
		SessionID: session.ID.String(),
		Total:     session.Total.StringFixed(3),
	}
	switch session.Status {
	case enums.SessionStatusInitiated:
		view.Status = "processing"
	case enums.SessionStatusPaid:
		view.Status = "paid"
		if session.OrderID != nil {
			view.OrderID = session.OrderID.String()
		}
	case enums.SessionStatusFailed:
		view.Status = "failed"
		view.Reason = "payment failed, your cart is intact"
	case enums.SessionStatusCancelled:
		view.Status = "cancelled"
	}
	return view
}
