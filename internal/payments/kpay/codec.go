// Package kpay integrates the hosted-page gateway. Every payload that
// crosses the wire, outbound or inbound, travels as a single encrypted
// "trandata" blob.
package kpay

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

const trandataInfo = "kpay trandata v1"

// Codec seals and opens trandata blobs. The AEAD key is derived from the
// terminal's 32-byte resource key; the raw key never touches the cipher
// directly so a future rotation can re-derive with a new info string.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the trandata key and prepares the AEAD.
func NewCodec(resourceKey string) (*Codec, error) {
	if len(resourceKey) != 32 {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayConfig, "kpay resource key must be exactly 32 bytes")
	}

	kdf := hkdf.New(sha256.New, []byte(resourceKey), nil, []byte(trandataInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "derive trandata key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init trandata cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init trandata aead")
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext into a hex trandata string (nonce prepended).
func (c *Codec) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate trandata nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a hex trandata string. Every malformation fails closed with
// DECRYPTION_FAILED; the caller must treat that as indeterminate, never as a
// declined payment.
func (c *Codec) Decrypt(encoded string) ([]byte, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "trandata is not valid hex")
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return nil, pkgerrors.New(pkgerrors.CodeDecryption, "trandata shorter than nonce and tag")
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "trandata failed authentication")
	}
	return plaintext, nil
}
