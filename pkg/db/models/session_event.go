package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/noorcart/noorcart-backend/pkg/enums"
)

// SessionEvent is one row of the append-only diagnostics log keyed by session
// id. It records observability timestamps for the in-app wallet flow
// (sdk opened, callback returned, first status check, wallet state changes).
// Rows are only ever inserted; the checkout state machine never consults them.
type SessionEvent struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SessionID uuid.UUID              `gorm:"column:session_id;type:uuid;not null;index"`
	Kind      enums.SessionEventKind `gorm:"column:kind;type:text;not null"`
	Value     string                 `gorm:"column:value"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
