// Package tokens vaults reusable payment credentials captured from
// successful transactions. Vaulting is strictly best effort: the payment
// path never waits on it and never fails because of it.
package tokens

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

const vaultKeyInfo = "payment token vault v1"

// Cipher seals token plaintext at rest. The AEAD key is derived from the
// 32-byte master secret, so rotating the derivation only needs a new info
// string.
type Cipher struct {
	aead   cipher.AEAD
	secret []byte
}

// NewCipher derives the vault key and prepares the AEAD.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) != 32 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "vault encryption secret must be exactly 32 bytes")
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(vaultKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "derive vault key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init vault cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "init vault aead")
	}
	return &Cipher{aead: aead, secret: []byte(secret)}, nil
}

// Seal encrypts token plaintext (nonce prepended to the ciphertext).
func (c *Cipher) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate vault nonce")
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a sealed token. Malformed or tampered ciphertext fails
// closed.
func (c *Cipher) Open(sealed []byte) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return "", pkgerrors.New(pkgerrors.CodeDecryption, "sealed token shorter than nonce and tag")
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "sealed token failed authentication")
	}
	return string(plaintext), nil
}

// Hash renders the deduplication digest for a token plaintext. Keyed with the
// master secret so the stored hash reveals nothing about the raw token.
func (c *Cipher) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
