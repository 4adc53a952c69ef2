package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/pkg/enums"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

// Order is the durable record of a completed sale. CheckoutSessionID carries a
// unique index: two racing materialization attempts for the same session
// resolve at the storage layer, not in application logic.
type Order struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	CheckoutSessionID uuid.UUID `gorm:"column:checkout_session_id;type:uuid;not null;uniqueIndex:uq_orders_checkout_session_id"`

	Total             decimal.Decimal         `gorm:"column:total;type:numeric(12,3);not null"`
	PaymentStatus     enums.PaymentStatus     `gorm:"column:payment_status;type:text;not null;default:'unpaid'"`
	FulfillmentStatus enums.FulfillmentStatus `gorm:"column:fulfillment_status;type:text;not null;default:'pending'"`
	PaymentMethod     enums.PaymentGateway    `gorm:"column:payment_method;type:text;not null"`
	InventoryStatus   enums.InventoryStatus   `gorm:"column:inventory_status;type:text;not null;default:'reserved'"`

	TransactionID *string `gorm:"column:transaction_id"`
	AuthCode      *string `gorm:"column:auth_code"`
	ReferenceCode *string `gorm:"column:reference_code"`

	RawGatewayResponse types.JSONMap `gorm:"column:raw_gateway_response;type:jsonb;serializer:json"`

	Items []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
