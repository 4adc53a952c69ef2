// Package wallet integrates the in-app wallet SDK gateway. The app opens the
// SDK with a signed parameter bag; confirmations come back as signed flat
// parameter maps over callback, webhook, and status check.
package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"
)

// hashExcludedKeys never participate in the canonical message. The secure
// hash always excludes itself; language fields vary with the device locale
// and would break verification for no security gain.
var hashExcludedKeys = map[string]struct{}{
	"lang":        {},
	"language":    {},
	"secure_hash": {},
	"hash":        {},
}

// Signer reproduces the wallet SDK digest scheme.
type Signer struct {
	secret []byte
}

// NewSigner builds a signer for the merchant secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Canonicalize renders the signable form of a parameter map: every entry
// except the excluded keys as key="value", sorted by key then value, joined
// with commas. This is the remote contract, byte for byte.
func Canonicalize(params map[string]string) string {
	entries := make([]string, 0, len(params))
	for key, value := range params {
		if _, excluded := hashExcludedKeys[strings.ToLower(key)]; excluded {
			continue
		}
		entries = append(entries, key+`="`+value+`"`)
	}
	sort.Strings(entries)
	return strings.Join(entries, ",")
}

// SecureHash computes the digest for a parameter map.
func (s *Signer) SecureHash(params map[string]string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Canonicalize(params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest and compares it against the secure_hash entry
// carried inside the map itself.
func (s *Signer) Verify(params map[string]string) bool {
	asserted := params["secure_hash"]
	if asserted == "" {
		return false
	}
	return hmac.Equal([]byte(s.SecureHash(params)), []byte(asserted))
}
