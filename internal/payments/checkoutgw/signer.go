// Package checkoutgw integrates the hosted-invoice gateway: the shopper is
// redirected to a gateway-hosted invoice page and the gateway reports back by
// redirect, webhook, and a signed status query.
package checkoutgw

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// Signer reproduces the gateway's canonical digest scheme. The concatenation
// order and the 3-decimal amount rendering are the remote contract; any
// deviation authenticates as garbage on their side.
type Signer struct {
	appID  string
	secret []byte
}

// NewSigner builds a signer for the given app credentials.
func NewSigner(appID, secret string) *Signer {
	return &Signer{appID: appID, secret: []byte(secret)}
}

// FormatAmount renders an amount with exactly three decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(3)
}

// CreateSignature signs an invoice creation: timestamp + currency + amount + appID.
func (s *Signer) CreateSignature(timestamp, currency string, amount decimal.Decimal) string {
	return s.digest(timestamp + currency + FormatAmount(amount) + s.appID)
}

// StatusSignature signs a status query: timestamp + appID.
func (s *Signer) StatusSignature(timestamp string) string {
	return s.digest(timestamp + s.appID)
}

// VerifyCreate checks a digest produced with the creation scheme.
func (s *Signer) VerifyCreate(timestamp, currency string, amount decimal.Decimal, signature string) bool {
	return hmac.Equal([]byte(s.CreateSignature(timestamp, currency, amount)), []byte(signature))
}

// VerifyStatus checks a digest produced with the status scheme.
func (s *Signer) VerifyStatus(timestamp, signature string) bool {
	return hmac.Equal([]byte(s.StatusSignature(timestamp)), []byte(signature))
}

func (s *Signer) digest(message string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
