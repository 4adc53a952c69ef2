package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noorcart/noorcart-backend/pkg/config"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/metrics"
)

var (
	errMerchantIDRequired = errors.New("wallet merchant id is required")
	errSecretRequired     = errors.New("wallet secret is required")
	errBaseURLRequired    = errors.New("wallet base url is required")
	errLoggerRequired     = errors.New("wallet logger is required")
)

// Client speaks the wallet gateway's status API and signs SDK parameter bags.
type Client struct {
	httpClient *http.Client
	signer     *Signer
	merchantID string
	baseURL    string
	logger     *logger.Logger
	metrics    *metrics.PaymentMetrics
}

// NewClient initializes the wallet wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.WalletConfig, logg *logger.Logger, paymentMetrics *metrics.PaymentMetrics) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if merchantID == "" {
		return nil, errMerchantIDRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		signer:     NewSigner(secret),
		merchantID: merchantID,
		baseURL:    baseURL,
		logger:     logg,
		metrics:    paymentMetrics,
	}
	logg.Info(ctx, "wallet client initialized")
	return c, nil
}

// Signer exposes the digest scheme for verifying inbound payloads.
func (c *Client) Signer() *Signer {
	return c.signer
}

// MerchantID reports the configured merchant identifier.
func (c *Client) MerchantID() string {
	return c.merchantID
}

// TransactionStatus posts the signed status check and verifies the signed
// answer. The request uses the same digest scheme over its smaller set.
func (c *Client) TransactionStatus(ctx context.Context, trackID string) (map[string]string, error) {
	request := map[string]string{
		"merchant_id": c.merchantID,
		"track_id":    trackID,
		"timestamp":   fmt.Sprintf("%d", time.Now().Unix()),
	}
	request["secure_hash"] = c.signer.SecureHash(request)

	body, err := json.Marshal(request)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode status request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/status", bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build status request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.log(ctx, "request", "transaction_status", map[string]any{"track_id": trackID})

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGatewayDuration("wallet", "transaction_status", time.Since(started))
	if err != nil {
		c.log(ctx, "error", "transaction_status", map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "wallet status check failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read status response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log(ctx, "error", "transaction_status", map[string]any{"status_code": resp.StatusCode})
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("wallet status check returned status %d", resp.StatusCode))
	}

	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode status response")
	}
	if !c.signer.Verify(payload) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "status response digest mismatch")
	}
	c.log(ctx, "response", "transaction_status", map[string]any{
		"track_id": payload["track_id"],
		"state":    payload["state"],
	})
	return payload, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op, "phase": phase}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("wallet %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("wallet %s", phase))
	}
}
