package kpay

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

const (
	resultCaptured    = "CAPTURED"
	resultNotCaptured = "NOT CAPTURED"
	resultCanceled    = "CANCELED"
	resultDenied      = "DENIED BY RISK"
)

// Adapter exposes the hosted-page gateway through the shared capability set.
type Adapter struct {
	client *Client
}

// NewAdapter builds the hosted-page adapter.
func NewAdapter(client *Client) (*Adapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayConfig, "kpay client required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Gateway() enums.PaymentGateway {
	return enums.GatewayKPay
}

// Initiate renders the hosted-page redirect carrying the sealed purchase.
func (a *Adapter) Initiate(_ context.Context, session *models.CheckoutSession) (*payments.InitiateResult, error) {
	if session.Status != enums.SessionStatusInitiated {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session is not awaiting payment")
	}
	redirect, err := a.client.PaymentURL(session.Total.StringFixed(3), session.ReferenceNumber())
	if err != nil {
		return nil, err
	}
	return &payments.InitiateResult{RedirectURL: redirect}, nil
}

// VerifyReturn opens the trandata blob from the browser return.
func (a *Adapter) VerifyReturn(_ context.Context, params url.Values) (*payments.NormalizedOutcome, error) {
	response, err := a.client.OpenResponse(params.Get("trandata"))
	if err != nil {
		return nil, err
	}
	return a.toOutcome(response)
}

// VerifyWebhook opens the trandata blob from the server notification.
func (a *Adapter) VerifyWebhook(_ context.Context, body []byte) (*payments.NormalizedOutcome, error) {
	var envelope struct {
		TranData string `json:"trandata"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "webhook body is not valid json")
	}
	response, err := a.client.OpenResponse(envelope.TranData)
	if err != nil {
		return nil, err
	}
	return a.toOutcome(response)
}

// Status posts the sealed inquiry and opens the sealed answer.
func (a *Adapter) Status(ctx context.Context, session *models.CheckoutSession) (*payments.NormalizedOutcome, error) {
	response, err := a.client.Inquiry(ctx, session.Total.StringFixed(3), session.ReferenceNumber())
	if err != nil {
		return nil, err
	}
	outcome, err := a.toOutcome(response)
	if err != nil {
		return nil, err
	}
	// Inquiry answers echo the queried reference; pin the session's track id.
	outcome.TrackID = session.TrackID
	return outcome, nil
}

// TrackIDFromReturn extracts the correlation id without the codec. The
// hosted page appends a plaintext trackid alongside trandata exactly for the
// case where decryption fails and the status fallback must still find the
// session.
func (a *Adapter) TrackIDFromReturn(params url.Values) string {
	return baseReference(params.Get("trackid"))
}

func (a *Adapter) toOutcome(response *tranResponse) (*payments.NormalizedOutcome, error) {
	amount := decimal.Zero
	if response.Amount != "" {
		parsed, err := decimal.NewFromString(response.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "trandata carries unparseable amount")
		}
		amount = parsed
	}

	reason := response.ErrorText
	if reason == "" && response.Result != resultCaptured {
		reason = response.Result
	}
	return &payments.NormalizedOutcome{
		Result:        mapResult(response.Result),
		TrackID:       baseReference(response.TrackID),
		ReferenceCode: response.TrackID,
		PaymentID:     response.PaymentID,
		TransactionID: response.TranID,
		AuthCode:      response.Auth,
		AmountPaid:    amount,
		Reason:        reason,
		Raw: types.JSONMap{
			"result":    response.Result,
			"amt":       response.Amount,
			"trackid":   response.TrackID,
			"paymentid": response.PaymentID,
			"tranid":    response.TranID,
			"auth":      response.Auth,
			"ref":       response.Ref,
		},
	}, nil
}

func mapResult(result string) payments.Result {
	switch result {
	case resultCaptured:
		return payments.ResultCaptured
	case resultNotCaptured, resultCanceled, resultDenied:
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
