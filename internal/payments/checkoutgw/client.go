package checkoutgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/pkg/config"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/metrics"
)

var (
	errAppIDRequired   = errors.New("checkoutgw app id is required")
	errSecretRequired  = errors.New("checkoutgw secret is required")
	errBaseURLRequired = errors.New("checkoutgw base url is required")
	errLoggerRequired  = errors.New("checkoutgw logger is required")
)

// Client speaks the hosted-invoice HTTP API with centralized signing,
// logging, and error mapping.
type Client struct {
	httpClient *http.Client
	signer     *Signer
	appID      string
	baseURL    string
	currency   string
	logger     *logger.Logger
	metrics    *metrics.PaymentMetrics
}

// CreateInvoiceParams describes one hosted invoice.
type CreateInvoiceParams struct {
	Amount    decimal.Decimal
	Reference string
	ReturnURL string
}

// Invoice is the gateway's record of a created invoice.
type Invoice struct {
	InvoiceID string `json:"invoice_id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
}

// InvoiceStatus is the authoritative settlement state of an invoice.
type InvoiceStatus struct {
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	AuthCode      string `json:"auth_code"`
	Reason        string `json:"reason"`
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.CheckoutGWConfig, logg *logger.Logger, paymentMetrics *metrics.PaymentMetrics) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, errAppIDRequired
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
		signer:     NewSigner(appID, secret),
		appID:      appID,
		baseURL:    baseURL,
		currency:   cfg.Currency,
		logger:     logg,
		metrics:    paymentMetrics,
	}
	logg.Info(ctx, "checkoutgw client initialized")
	return c, nil
}

// Signer exposes the digest scheme for verifying inbound payloads.
func (c *Client) Signer() *Signer {
	return c.signer
}

// Currency reports the configured settlement currency.
func (c *Client) Currency() string {
	return c.currency
}

// CreateInvoice opens a hosted invoice and returns its payment URL.
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	payload := map[string]string{
		"app_id":     c.appID,
		"amount":     FormatAmount(params.Amount),
		"currency":   c.currency,
		"reference":  params.Reference,
		"return_url": params.ReturnURL,
		"timestamp":  timestamp,
		"signature":  c.signer.CreateSignature(timestamp, c.currency, params.Amount),
	}
	c.log(ctx, "request", "create_invoice", map[string]any{
		"reference": params.Reference,
		"amount":    payload["amount"],
	})

	var invoice Invoice
	if err := c.post(ctx, "/v2/invoices", "create_invoice", payload, &invoice); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_invoice", map[string]any{
		"invoice_id": invoice.InvoiceID,
		"status":     invoice.Status,
	})
	return &invoice, nil
}

// GetStatus queries the authoritative invoice state by reference.
func (c *Client) GetStatus(ctx context.Context, reference string) (*InvoiceStatus, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	payload := map[string]string{
		"app_id":    c.appID,
		"reference": reference,
		"timestamp": timestamp,
		"signature": c.signer.StatusSignature(timestamp),
	}
	c.log(ctx, "request", "invoice_status", map[string]any{"reference": reference})

	var status InvoiceStatus
	if err := c.post(ctx, "/v2/invoices/status", "invoice_status", payload, &status); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "invoice_status", map[string]any{
		"reference": status.Reference,
		"status":    status.Status,
	})
	return &status, nil
}

func (c *Client) post(ctx context.Context, path, op string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode "+op+" request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGatewayDuration("checkout", op, time.Since(started))
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checkoutgw "+op+" failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+op+" response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log(ctx, "error", op, map[string]any{"status_code": resp.StatusCode})
		return pkgerrors.New(codeForStatus(resp.StatusCode),
			fmt.Sprintf("checkoutgw %s returned status %d", op, resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
	}
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op, "phase": phase}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("checkoutgw %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("checkoutgw %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"signature", "secret", "token", "card"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}
