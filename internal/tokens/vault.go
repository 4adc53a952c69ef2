package tokens

import (
	"context"

	"github.com/google/uuid"

	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
)

// Vault seals and stores reusable payment credentials. Save sits behind the
// order materializer's error boundary; everything else serves the token
// management surface.
type Vault struct {
	repo   Repository
	cipher *Cipher
	log    *logger.Logger
}

var _ orders.TokenSaver = (*Vault)(nil)

// NewVault builds the token vault.
func NewVault(repo Repository, cipher *Cipher, log *logger.Logger) (*Vault, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "token repository required")
	}
	if cipher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "token cipher required")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Vault{repo: repo, cipher: cipher, log: log}, nil
}

// Save vaults a captured credential. Re-capturing an already vaulted token is
// a silent no-op; the user's first active token becomes the default.
func (v *Vault) Save(ctx context.Context, userID uuid.UUID, gateway enums.PaymentGateway, capture orders.TokenCapture) error {
	if capture.Plaintext == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "token plaintext required")
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	sealed, err := v.cipher.Seal(capture.Plaintext)
	if err != nil {
		return err
	}

	hasActive, err := v.repo.HasActive(ctx, userID)
	if err != nil {
		return err
	}

	created, err := v.repo.Insert(ctx, &models.PaymentToken{
		UserID:      userID,
		Gateway:     gateway,
		Ciphertext:  sealed,
		TokenHash:   v.cipher.Hash(capture.Plaintext),
		CardBrand:   capture.CardBrand,
		CardLast4:   capture.CardLast4,
		ExpiryMonth: capture.ExpiryMonth,
		ExpiryYear:  capture.ExpiryYear,
		IsDefault:   !hasActive,
		Status:      enums.TokenStatusActive,
	})
	if err != nil {
		return err
	}
	if !created {
		v.log.Info(v.log.WithField(ctx, "user_id", userID.String()), "token already vaulted, skipping")
	}
	return nil
}

// List returns the user's active vaulted tokens. Ciphertext stays in the
// vault; callers only see card metadata.
func (v *Vault) List(ctx context.Context, userID uuid.UUID) ([]models.PaymentToken, error) {
	tokens, err := v.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		tokens[i].Ciphertext = nil
		tokens[i].TokenHash = ""
	}
	return tokens, nil
}

// Revoke marks the user's token deleted. Used both by the management surface
// and when a gateway signals token revocation.
func (v *Vault) Revoke(ctx context.Context, userID, tokenID uuid.UUID) error {
	return v.repo.MarkDeleted(ctx, userID, tokenID)
}

// Reveal decrypts a vaulted token for an outbound gateway call.
func (v *Vault) Reveal(ctx context.Context, userID, tokenID uuid.UUID) (string, error) {
	token, err := v.repo.FindByID(ctx, tokenID)
	if err != nil {
		return "", err
	}
	if token.UserID != userID || token.Status != enums.TokenStatusActive {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "payment token not found")
	}
	return v.cipher.Open(token.Ciphertext)
}
