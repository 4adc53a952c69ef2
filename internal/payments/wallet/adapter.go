package wallet

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

// Adapter exposes the in-app wallet SDK through the shared capability set.
type Adapter struct {
	client *Client
}

// NewAdapter builds the wallet adapter.
func NewAdapter(client *Client) (*Adapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayConfig, "wallet client required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Gateway() enums.PaymentGateway {
	return enums.GatewayWallet
}

// Initiate returns the signed parameter bag the mobile app feeds into the SDK.
func (a *Adapter) Initiate(_ context.Context, session *models.CheckoutSession) (*payments.InitiateResult, error) {
	if session.Status != enums.SessionStatusInitiated {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session is not awaiting payment")
	}
	params := map[string]string{
		"merchant_id": a.client.MerchantID(),
		"amount":      session.Total.StringFixed(3),
		"currency":    "KWD",
		"track_id":    session.ReferenceNumber(),
		"timestamp":   strconv.FormatInt(time.Now().Unix(), 10),
	}
	params["secure_hash"] = a.client.Signer().SecureHash(params)
	return &payments.InitiateResult{SDKParams: params}, nil
}

// VerifyReturn authenticates the SDK callback parameters.
func (a *Adapter) VerifyReturn(_ context.Context, params url.Values) (*payments.NormalizedOutcome, error) {
	flat := make(map[string]string, len(params))
	for key := range params {
		flat[key] = params.Get(key)
	}
	return a.verify(flat)
}

// VerifyWebhook authenticates the signed flat JSON notification.
func (a *Adapter) VerifyWebhook(_ context.Context, body []byte) (*payments.NormalizedOutcome, error) {
	var flat map[string]string
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "webhook body is not a flat json object")
	}
	return a.verify(flat)
}

// Status performs the signed status check over its smaller parameter set.
func (a *Adapter) Status(ctx context.Context, session *models.CheckoutSession) (*payments.NormalizedOutcome, error) {
	payload, err := a.client.TransactionStatus(ctx, session.ReferenceNumber())
	if err != nil {
		return nil, err
	}
	outcome, err := a.toOutcome(payload)
	if err != nil {
		return nil, err
	}
	outcome.TrackID = session.TrackID
	return outcome, nil
}

func (a *Adapter) TrackIDFromReturn(params url.Values) string {
	return baseReference(params.Get("track_id"))
}

func (a *Adapter) verify(flat map[string]string) (*payments.NormalizedOutcome, error) {
	if !a.client.Signer().Verify(flat) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "wallet payload digest mismatch")
	}
	return a.toOutcome(flat)
}

func (a *Adapter) toOutcome(flat map[string]string) (*payments.NormalizedOutcome, error) {
	amount := decimal.Zero
	if raw := flat["amount"]; raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "wallet payload carries unparseable amount")
		}
		amount = parsed
	}

	raw := types.JSONMap{}
	for key, value := range flat {
		if key == "secure_hash" {
			continue
		}
		raw[key] = value
	}
	return &payments.NormalizedOutcome{
		Result:        mapState(flat["state"]),
		TrackID:       baseReference(flat["track_id"]),
		ReferenceCode: flat["track_id"],
		PaymentID:     flat["payment_id"],
		TransactionID: flat["transaction_id"],
		AuthCode:      flat["auth_code"],
		AmountPaid:    amount,
		Reason:        flat["reason"],
		Raw:           raw,
	}, nil
}

func mapState(state string) payments.Result {
	switch state {
	case "SUCCESS", "CAPTURED":
		return payments.ResultCaptured
	case "FAILED", "DECLINED", "CANCELED", "EXPIRED":
		return payments.ResultDeclined
	default:
		return payments.ResultPending
	}
}

func baseReference(reference string) string {
	for i := len(reference) - 1; i >= 0; i-- {
		if reference[i] != '-' {
			continue
		}
		suffix := reference[i+1:]
		numeric := suffix != ""
		for _, r := range suffix {
			if r < '0' || r > '9' {
				numeric = false
				break
			}
		}
		if numeric {
			return reference[:i]
		}
		return reference
	}
	return reference
}
