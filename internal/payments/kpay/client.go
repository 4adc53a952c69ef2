package kpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noorcart/noorcart-backend/pkg/config"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/metrics"
)

const (
	actionPurchase = "1"
	actionInquiry  = "8"
)

var (
	errTranportalIDRequired = errors.New("kpay tranportal id is required")
	errBaseURLRequired      = errors.New("kpay base url is required")
	errLoggerRequired       = errors.New("kpay logger is required")
)

// tranRequest is the plaintext shape sealed into an outbound trandata blob.
type tranRequest struct {
	TranportalID string `json:"id"`
	Action       string `json:"action"`
	Amount       string `json:"amt"`
	Currency     string `json:"currencycode"`
	TrackID      string `json:"trackid"`
	ResponseURL  string `json:"responseURL,omitempty"`
	ErrorURL     string `json:"errorURL,omitempty"`
}

// tranResponse is the plaintext shape inside an inbound trandata blob.
type tranResponse struct {
	Result    string `json:"result"`
	Amount    string `json:"amt"`
	TrackID   string `json:"trackid"`
	PaymentID string `json:"paymentid"`
	TranID    string `json:"tranid"`
	Auth      string `json:"auth"`
	Ref       string `json:"ref"`
	ErrorText string `json:"errortext,omitempty"`
}

// Client speaks the hosted-page gateway: it builds redirect URLs carrying
// sealed trandata and posts sealed inquiries for the authoritative status.
type Client struct {
	httpClient   *http.Client
	codec        *Codec
	tranportalID string
	baseURL      string
	responseURL  string
	errorURL     string
	logger       *logger.Logger
	metrics      *metrics.PaymentMetrics
}

// NewClient initializes the gateway wrapper and derives the trandata key.
func NewClient(ctx context.Context, cfg config.KPayConfig, logg *logger.Logger, paymentMetrics *metrics.PaymentMetrics) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	tranportalID := strings.TrimSpace(cfg.TranportalID)
	if tranportalID == "" {
		return nil, errTranportalIDRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	codec, err := NewCodec(cfg.ResourceKey)
	if err != nil {
		return nil, err
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		codec:        codec,
		tranportalID: tranportalID,
		baseURL:      baseURL,
		responseURL:  cfg.ReturnURL,
		errorURL:     cfg.ErrorURL,
		logger:       logg,
		metrics:      paymentMetrics,
	}
	logg.Info(ctx, "kpay client initialized")
	return c, nil
}

// Codec exposes the trandata codec for verifying inbound payloads.
func (c *Client) Codec() *Codec {
	return c.codec
}

// PaymentURL seals a purchase request and renders the hosted-page redirect.
func (c *Client) PaymentURL(amount, trackID string) (string, error) {
	plaintext, err := json.Marshal(tranRequest{
		TranportalID: c.tranportalID,
		Action:       actionPurchase,
		Amount:       amount,
		Currency:     "414",
		TrackID:      trackID,
		ResponseURL:  c.responseURL,
		ErrorURL:     c.errorURL,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode purchase trandata")
	}
	trandata, err := c.codec.Encrypt(plaintext)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("tranportalId", c.tranportalID)
	query.Set("trandata", trandata)
	return c.baseURL + "/payment?" + query.Encode(), nil
}

// Inquiry posts a sealed status inquiry and opens the sealed answer.
func (c *Client) Inquiry(ctx context.Context, amount, trackID string) (*tranResponse, error) {
	plaintext, err := json.Marshal(tranRequest{
		TranportalID: c.tranportalID,
		Action:       actionInquiry,
		Amount:       amount,
		Currency:     "414",
		TrackID:      trackID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode inquiry trandata")
	}
	trandata, err := c.codec.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(map[string]string{
		"tranportal_id": c.tranportalID,
		"trandata":      trandata,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode inquiry request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inquiry", bytes.NewReader(reqBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build inquiry request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.log(ctx, "request", "inquiry", map[string]any{"trackid": trackID})

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGatewayDuration("kpay", "inquiry", time.Since(started))
	if err != nil {
		c.log(ctx, "error", "inquiry", map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "kpay inquiry failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read inquiry response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log(ctx, "error", "inquiry", map[string]any{"status_code": resp.StatusCode})
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("kpay inquiry returned status %d", resp.StatusCode))
	}

	var envelope struct {
		TranData string `json:"trandata"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode inquiry envelope")
	}
	result, err := c.OpenResponse(envelope.TranData)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "inquiry", map[string]any{
		"trackid": result.TrackID,
		"result":  result.Result,
	})
	return result, nil
}

// OpenResponse decrypts and decodes one inbound trandata blob.
func (c *Client) OpenResponse(trandata string) (*tranResponse, error) {
	if strings.TrimSpace(trandata) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDecryption, "trandata is empty")
	}
	plaintext, err := c.codec.Decrypt(trandata)
	if err != nil {
		return nil, err
	}
	var response tranResponse
	if err := json.Unmarshal(plaintext, &response); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "trandata payload is not valid json")
	}
	return &response, nil
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
		c.logger.Error(ctx, fmt.Sprintf("kpay %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("kpay %s", phase))
	}
}
