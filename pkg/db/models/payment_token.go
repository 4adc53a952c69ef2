package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/noorcart/noorcart-backend/pkg/enums"
)

// PaymentToken is a vaulted reusable payment credential extracted from a
// successful transaction. TokenHash is a deterministic digest of the plaintext
// so duplicates can be detected without decrypting.
type PaymentToken struct {
	ID      uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID  uuid.UUID            `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_payment_tokens_user_hash"`
	Gateway enums.PaymentGateway `gorm:"column:gateway;type:text;not null"`

	Ciphertext []byte `gorm:"column:ciphertext;not null"`
	TokenHash  string `gorm:"column:token_hash;not null;uniqueIndex:uq_payment_tokens_user_hash"`

	CardBrand   string `gorm:"column:card_brand"`
	CardLast4   string `gorm:"column:card_last4"`
	ExpiryMonth int    `gorm:"column:expiry_month"`
	ExpiryYear  int    `gorm:"column:expiry_year"`

	IsDefault bool              `gorm:"column:is_default;not null;default:false"`
	Status    enums.TokenStatus `gorm:"column:status;type:text;not null;default:'active'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
