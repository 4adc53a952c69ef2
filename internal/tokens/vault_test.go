package tokens

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
)

const testVaultSecret = "abcdefghijklmnopqrstuvwxyz012345"

func newTestVault(t *testing.T) (*Vault, *gorm.DB) {
	t.Helper()

	dsn := "file:tokens_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PaymentToken{}))

	cipher, err := NewCipher(testVaultSecret)
	require.NoError(t, err)
	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	vault, err := NewVault(NewRepository(db), cipher, log)
	require.NoError(t, err)
	return vault, db
}

func TestCipherSecretLength(t *testing.T) {
	t.Parallel()

	_, err := NewCipher("too short")
	require.Error(t, err)

	_, err = NewCipher(testVaultSecret)
	require.NoError(t, err)
}

func TestCipherRoundTrip(t *testing.T) {
	t.Parallel()

	cipher, err := NewCipher(testVaultSecret)
	require.NoError(t, err)

	sealed, err := cipher.Seal("tok_4242")
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "tok_4242")

	opened, err := cipher.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "tok_4242", opened)
}

func TestCipherOpenFailsClosed(t *testing.T) {
	t.Parallel()

	cipher, err := NewCipher(testVaultSecret)
	require.NoError(t, err)

	sealed, err := cipher.Seal("tok_4242")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = cipher.Open(sealed)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeDecryption, typed.Code())

	_, err = cipher.Open([]byte{0x01, 0x02})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeDecryption, typed.Code())
}

func TestSaveVaultsSealedToken(t *testing.T) {
	t.Parallel()

	vault, db := newTestVault(t)
	userID := uuid.New()

	err := vault.Save(context.Background(), userID, enums.GatewayCheckout, orders.TokenCapture{
		Plaintext: "tok_4242",
		CardBrand: "VISA",
		CardLast4: "4242",
	})
	require.NoError(t, err)

	var stored models.PaymentToken
	require.NoError(t, db.First(&stored, "user_id = ?", userID).Error)
	require.NotContains(t, string(stored.Ciphertext), "tok_4242")
	require.True(t, stored.IsDefault)
	require.Equal(t, enums.TokenStatusActive, stored.Status)

	plaintext, err := vault.Reveal(context.Background(), userID, stored.ID)
	require.NoError(t, err)
	require.Equal(t, "tok_4242", plaintext)
}

func TestSaveDeduplicatesRecapture(t *testing.T) {
	t.Parallel()

	vault, db := newTestVault(t)
	userID := uuid.New()
	capture := orders.TokenCapture{Plaintext: "tok_4242", CardLast4: "4242"}

	require.NoError(t, vault.Save(context.Background(), userID, enums.GatewayCheckout, capture))
	require.NoError(t, vault.Save(context.Background(), userID, enums.GatewayCheckout, capture))

	var count int64
	require.NoError(t, db.Model(&models.PaymentToken{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSaveOnlyFirstTokenIsDefault(t *testing.T) {
	t.Parallel()

	vault, _ := newTestVault(t)
	userID := uuid.New()

	require.NoError(t, vault.Save(context.Background(), userID, enums.GatewayCheckout,
		orders.TokenCapture{Plaintext: "tok_first", CardLast4: "1111"}))
	require.NoError(t, vault.Save(context.Background(), userID, enums.GatewayCheckout,
		orders.TokenCapture{Plaintext: "tok_second", CardLast4: "2222"}))

	tokens, err := vault.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	defaults := 0
	for _, token := range tokens {
		require.Nil(t, token.Ciphertext)
		require.Empty(t, token.TokenHash)
		if token.IsDefault {
			defaults++
		}
	}
	require.Equal(t, 1, defaults)
}

func TestRevokeHidesToken(t *testing.T) {
	t.Parallel()

	vault, _ := newTestVault(t)
	userID := uuid.New()
	require.NoError(t, vault.Save(context.Background(), userID, enums.GatewayKPay,
		orders.TokenCapture{Plaintext: "tok_4242"}))

	tokens, err := vault.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	tokenID := tokens[0].ID

	require.NoError(t, vault.Revoke(context.Background(), userID, tokenID))
	// Revocation is idempotent.
	require.NoError(t, vault.Revoke(context.Background(), userID, tokenID))

	tokens, err = vault.List(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, tokens)

	_, err = vault.Reveal(context.Background(), userID, tokenID)
	require.Error(t, err)
}

func TestRevokeRejectsForeignToken(t *testing.T) {
	t.Parallel()

	vault, _ := newTestVault(t)
	owner := uuid.New()
	require.NoError(t, vault.Save(context.Background(), owner, enums.GatewayWallet,
		orders.TokenCapture{Plaintext: "tok_4242"}))

	tokens, err := vault.List(context.Background(), owner)
	require.NoError(t, err)

	err = vault.Revoke(context.Background(), uuid.New(), tokens[0].ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
