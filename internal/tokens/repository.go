package tokens

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/pkg/db"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

const userHashConstraint = "uq_payment_tokens_user_hash"

// Repository persists vaulted tokens. The (user_id, token_hash) unique index
// deduplicates recaptures of the same credential without decrypting anything.
type Repository interface {
	Insert(ctx context.Context, token *models.PaymentToken) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentToken, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentToken, error)
	HasActive(ctx context.Context, userID uuid.UUID) (bool, error)
	MarkDeleted(ctx context.Context, userID, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a token repository backed by the provided DB.
func NewRepository(gdb *gorm.DB) Repository {
	if gdb == nil {
		return nil
	}
	return &repository{db: gdb}
}

// Insert stores a token. The bool result reports whether a new row was
// created; a duplicate of an already-vaulted credential is a no-op.
func (r *repository) Insert(ctx context.Context, token *models.PaymentToken) (bool, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).Create(token).Error
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err, userHashConstraint) {
		return false, nil
	}
	return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment token")
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentToken, error) {
	var token models.PaymentToken
	err := r.db.WithContext(ctx).First(&token, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment token not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment token")
	}
	return &token, nil
}

func (r *repository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentToken, error) {
	var tokens []models.PaymentToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.TokenStatusActive).
		Order("created_at DESC").
		Find(&tokens).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment tokens")
	}
	return tokens, nil
}

func (r *repository) HasActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentToken{}).
		Where("user_id = ? AND status = ?", userID, enums.TokenStatusActive).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count payment tokens")
	}
	return count > 0, nil
}

// MarkDeleted revokes an active token owned by the user. Revoking an already
// deleted token is idempotent; a token the user does not own reads as absent.
func (r *repository) MarkDeleted(ctx context.Context, userID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&models.PaymentToken{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, enums.TokenStatusActive).
		Updates(map[string]any{
			"status":     enums.TokenStatusDeleted,
			"is_default": false,
		})
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "mark payment token deleted")
	}
	if result.RowsAffected == 0 {
		token, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if token.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment token not found")
		}
		// Already deleted.
	}
	return nil
}
