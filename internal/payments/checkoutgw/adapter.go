package checkoutgw

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

// Adapter exposes the hosted-invoice gateway through the shared capability set.
type Adapter struct {
	client    *Client
	returnURL string
}

// NewAdapter builds the hosted-invoice adapter.
func NewAdapter(client *Client, returnURL string) (*Adapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayConfig, "checkoutgw client required")
	}
	return &Adapter{client: client, returnURL: returnURL}, nil
}

func (a *Adapter) Gateway() enums.PaymentGateway {
	return enums.GatewayCheckout
}

// Initiate opens a hosted invoice and hands back its payment URL.
func (a *Adapter) Initiate(ctx context.Context, session *models.CheckoutSession) (*payments.InitiateResult, error) {
	if session.Status != enums.SessionStatusInitiated {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session is not awaiting payment")
	}
	invoice, err := a.client.CreateInvoice(ctx, CreateInvoiceParams{
		Amount:    session.Total,
		Reference: session.ReferenceNumber(),
		ReturnURL: a.returnURL,
	})
	if err != nil {
		return nil, err
	}
	return &payments.InitiateResult{
		RedirectURL: invoice.URL,
		PaymentID:   invoice.InvoiceID,
	}, nil
}

// VerifyReturn authenticates the browser-return query string. The digest
// covers timestamp, currency, and amount with the creation scheme.
func (a *Adapter) VerifyReturn(_ context.Context, params url.Values) (*payments.NormalizedOutcome, error) {
	timestamp := params.Get("timestamp")
	currency := params.Get("currency")
	signature := params.Get("signature")
	if timestamp == "" || signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "return payload missing signature fields")
	}
	amount, err := decimal.NewFromString(params.Get("amount"))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "return payload carries unparseable amount")
	}
	if !a.client.Signer().VerifyCreate(timestamp, currency, amount, signature) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "return payload digest mismatch")
	}

	raw := types.JSONMap{}
	for key := range params {
		raw[key] = params.Get(key)
	}
	return &payments.NormalizedOutcome{
		Result:        mapStatus(params.Get("status")),
		TrackID:       baseReference(params.Get("reference")),
		ReferenceCode: params.Get("reference"),
		PaymentID:     params.Get("invoice_id"),
		TransactionID: params.Get("transaction_id"),
		AuthCode:      params.Get("auth_code"),
		AmountPaid:    amount,
		Reason:        params.Get("reason"),
		Raw:           raw,
	}, nil
}

type webhookPayload struct {
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
	InvoiceID     string `json:"invoice_id"`
	TransactionID string `json:"transaction_id"`
	AuthCode      string `json:"auth_code"`
	Reason        string `json:"reason"`
	Timestamp     string `json:"timestamp"`
	Signature     string `json:"signature"`

	Token       string `json:"token"`
	CardBrand   string `json:"card_brand"`
	CardLast4   string `json:"card_last4"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
}

// VerifyWebhook authenticates a webhook body signed with the creation scheme.
func (a *Adapter) VerifyWebhook(_ context.Context, body []byte) (*payments.NormalizedOutcome, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "webhook body is not valid json")
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "webhook carries unparseable amount")
	}
	if !a.client.Signer().VerifyCreate(payload.Timestamp, payload.Currency, amount, payload.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "webhook digest mismatch")
	}

	raw := types.JSONMap{}
	if err := json.Unmarshal(body, &raw); err == nil {
		delete(raw, "token")
	}
	outcome := &payments.NormalizedOutcome{
		Result:        mapStatus(payload.Status),
		TrackID:       baseReference(payload.Reference),
		ReferenceCode: payload.Reference,
		PaymentID:     payload.InvoiceID,
		TransactionID: payload.TransactionID,
		AuthCode:      payload.AuthCode,
		AmountPaid:    amount,
		Reason:        payload.Reason,
		Raw:           raw,
	}
	if payload.Token != "" {
		outcome.Token = &orders.TokenCapture{
			Plaintext:   payload.Token,
			CardBrand:   payload.CardBrand,
			CardLast4:   payload.CardLast4,
			ExpiryMonth: payload.ExpiryMonth,
			ExpiryYear:  payload.ExpiryYear,
		}
	}
	return outcome, nil
}

// Status performs the authoritative invoice lookup.
func (a *Adapter) Status(ctx context.Context, session *models.CheckoutSession) (*payments.NormalizedOutcome, error) {
	status, err := a.client.GetStatus(ctx, session.ReferenceNumber())
	if err != nil {
		return nil, err
	}
	amount := decimal.Zero
	if status.Amount != "" {
		parsed, err := decimal.NewFromString(status.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "status response carries unparseable amount")
		}
		amount = parsed
	}
	return &payments.NormalizedOutcome{
		Result:        mapStatus(status.Status),
		TrackID:       session.TrackID,
		ReferenceCode: status.Reference,
		TransactionID: status.TransactionID,
		AuthCode:      status.AuthCode,
		AmountPaid:    amount,
		Reason:        status.Reason,
		Raw: types.JSONMap{
			"status":         status.Status,
			"amount":         status.Amount,
			"currency":       status.Currency,
			"reference":      status.Reference,
			"transaction_id": status.TransactionID,
		},
	}, nil
}

func (a *Adapter) TrackIDFromReturn(params url.Values) string {
	return baseReference(params.Get("reference"))
}

func mapStatus(status string) payments.Result {
	switch status {
	case "paid", "captured":
		return payments.ResultCaptured
	case "failed", "declined", "cancelled", "expired":
		return payments.ResultDeclined
	default:
		return payments.ResultPending
	}
}

// baseReference strips the retry suffix so "track-2" resolves the session
// created as "track".
func baseReference(reference string) string {
	for i := len(reference) - 1; i >= 0; i-- {
		if reference[i] == '-' {
			if _, err := strconv.Atoi(reference[i+1:]); err == nil {
				return reference[:i]
			}
			return reference
		}
	}
	return reference
}
