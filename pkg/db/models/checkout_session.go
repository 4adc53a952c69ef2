package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noorcart/noorcart-backend/pkg/enums"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

// CheckoutSession is the unit of a payment attempt: a frozen cart snapshot
// plus its payment lifecycle state. Snapshot fields are written once at
// creation and never recomputed from live catalog state.
type CheckoutSession struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Items           types.SessionItems   `gorm:"column:items;type:jsonb;serializer:json;not null"`
	ShippingAddress types.Address        `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	Total           decimal.Decimal      `gorm:"column:total;type:numeric(12,3);not null"`
	PaymentMethod   enums.PaymentGateway `gorm:"column:payment_method;type:text;not null"`

	Status        enums.SessionStatus `gorm:"column:status;type:text;not null;default:'initiated'"`
	OrderID       *uuid.UUID          `gorm:"column:order_id;type:uuid"`
	FailureReason *string             `gorm:"column:failure_reason"`

	InventoryReservedAt *time.Time `gorm:"column:inventory_reserved_at"`
	InventoryReleasedAt *time.Time `gorm:"column:inventory_released_at"`

	// TrackID is the caller-generated correlation id gateways echo back in
	// callbacks that carry no session id. ReferenceAttempt is bumped on each
	// retry so regenerated references stay unique at the gateway.
	TrackID          string  `gorm:"column:track_id;not null;uniqueIndex:uq_checkout_sessions_track_id"`
	ReferenceAttempt int     `gorm:"column:reference_attempt;not null;default:0"`
	PaymentID        *string `gorm:"column:payment_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ReferenceNumber renders the gateway-facing reference for the current attempt.
func (s *CheckoutSession) ReferenceNumber() string {
	if s.ReferenceAttempt == 0 {
		return s.TrackID
	}
	return s.TrackID + "-" + strconv.Itoa(s.ReferenceAttempt)
}
