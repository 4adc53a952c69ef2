package kpay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noorcart/noorcart-backend/internal/payments"
	"github.com/noorcart/noorcart-backend/pkg/config"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
)

func testAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	client, err := NewClient(context.Background(), config.KPayConfig{
		TranportalID: "terminal-7",
		ResourceKey:  testResourceKey,
		BaseURL:      baseURL,
		ReturnURL:    "https://shop.example/return",
		ErrorURL:     "https://shop.example/error",
		HTTPTimeout:  5 * time.Second,
	}, log, nil)
	require.NoError(t, err)
	adapter, err := NewAdapter(client)
	require.NoError(t, err)
	return adapter
}

func testSession(total string) *models.CheckoutSession {
	return &models.CheckoutSession{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Total:         decimal.RequireFromString(total),
		PaymentMethod: enums.GatewayKPay,
		Status:        enums.SessionStatusInitiated,
		TrackID:       "900800700600500",
	}
}

func sealResponse(t *testing.T, adapter *Adapter, response tranResponse) string {
	t.Helper()
	plaintext, err := json.Marshal(response)
	require.NoError(t, err)
	sealed, err := adapter.client.Codec().Encrypt(plaintext)
	require.NoError(t, err)
	return sealed
}

func TestInitiateBuildsSealedRedirect(t *testing.T) {
	t.Parallel()

	adapter := testAdapter(t, "https://kpay.example")
	session := testSession("9.000")

	result, err := adapter.Initiate(context.Background(), session)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.RedirectURL, "https://kpay.example/payment?"))

	parsed, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, "terminal-7", query.Get("tranportalId"))

	plaintext, err := adapter.client.Codec().Decrypt(query.Get("trandata"))
	require.NoError(t, err)
	var req tranRequest
	require.NoError(t, json.Unmarshal(plaintext, &req))
	require.Equal(t, "1", req.Action)
	require.Equal(t, "9.000", req.Amount)
	require.Equal(t, session.TrackID, req.TrackID)
	require.Equal(t, "https://shop.example/return", req.ResponseURL)
}

func TestInitiateRejectsSettledSession(t *testing.T) {
	t.Parallel()

	adapter := testAdapter(t, "https://kpay.example")
	session := testSession("9.000")
	session.Status = enums.SessionStatusCancelled

	_, err := adapter.Initiate(context.Background(), session)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestVerifyReturnRoundTrip(t *testing.T) {
	t.Parallel()

	adapter := testAdapter(t, "https://kpay.example")
	sealed := sealResponse(t, adapter, tranResponse{
		Result:    "CAPTURED",
		Amount:    "9.000",
		TrackID:   "900800700600500-2",
		PaymentID: "pay-1",
		TranID:    "tran-1",
		Auth:      "A77",
		Ref:       "ref-1",
	})

	params := url.Values{}
	params.Set("trandata", sealed)
	outcome, err := adapter.VerifyReturn(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, payments.ResultCaptured, outcome.Result)
	require.Equal(t, "900800700600500", outcome.TrackID)
	require.Equal(t, "900800700600500-2", outcome.ReferenceCode)
	require.Equal(t, "tran-1", outcome.TransactionID)
	require.True(t, outcome.AmountPaid.Equal(decimal.RequireFromString("9.000")))
}

func TestVerifyReturnMalformedTrandataFailsClosed(t *testing.T) {
	t.Parallel()

	adapter := testAdapter(t, "https://kpay.example")
	for _, trandata := range []string{"", "zzzz", "deadbeef"} {
		params := url.Values{}
		params.Set("trandata", trandata)
		_, err := adapter.VerifyReturn(context.Background(), params)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		require.Equal(t, pkgerrors.CodeDecryption, typed.Code())
	}
}

func TestTrackIDFromReturnUsesPlaintextEscapeHatch(t *testing.T) {
	t.Parallel()

	adapter := testAdapter(t, "https://kpay.example")
	params := url.Values{}
	params.Set("trandata", "garbage")
	params.Set("trackid", "900800700600500-1")
	require.Equal(t, "900800700600500", adapter.TrackIDFromReturn(params))
}

func TestVerifyWebhookDeclined(t *testing.T) {
	t.Parallel()

	adapter := testAdapter(t, "https://kpay.example")
	sealed := sealResponse(t, adapter, tranResponse{
		Result:  "NOT CAPTURED",
		Amount:  "9.000",
		TrackID: "900800700600500",
	})
	body, _ := json.Marshal(map[string]string{"trandata": sealed})

	outcome, err := adapter.VerifyWebhook(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, payments.ResultDeclined, outcome.Result)
	require.Equal(t, "NOT CAPTURED", outcome.Reason)
}

func TestStatusInquiry(t *testing.T) {
	t.Parallel()

	var adapter *Adapter
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inquiry", r.URL.Path)
		var envelope map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))

		plaintext, err := adapter.client.Codec().Decrypt(envelope["trandata"])
		require.NoError(t, err)
		var req tranRequest
		require.NoError(t, json.Unmarshal(plaintext, &req))
		require.Equal(t, "8", req.Action)

		sealed := sealResponse(t, adapter, tranResponse{
			Result:  "CAPTURED",
			Amount:  req.Amount,
			TrackID: req.TrackID,
			TranID:  "tran-9",
		})
		json.NewEncoder(w).Encode(map[string]string{"trandata": sealed})
	}))
	defer server.Close()
	adapter = testAdapter(t, server.URL)

	session := testSession("9.000")
	outcome, err := adapter.Status(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, payments.ResultCaptured, outcome.Result)
	require.Equal(t, session.TrackID, outcome.TrackID)
	require.Equal(t, "tran-9", outcome.TransactionID)
}
