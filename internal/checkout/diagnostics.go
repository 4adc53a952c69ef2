package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
)

// DiagnosticsLog appends observability events for in-app wallet flows. Rows
// are insert-only; nothing in the payment path reads them back.
type DiagnosticsLog interface {
	Record(ctx context.Context, sessionID uuid.UUID, kind enums.SessionEventKind, value string) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.SessionEvent, error)
}

type diagnosticsLog struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewDiagnosticsLog builds the session event recorder.
func NewDiagnosticsLog(db *gorm.DB, log *logger.Logger) DiagnosticsLog {
	if db == nil || log == nil {
		return nil
	}
	return &diagnosticsLog{db: db, log: log}
}

func (l *diagnosticsLog) Record(ctx context.Context, sessionID uuid.UUID, kind enums.SessionEventKind, value string) error {
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown session event kind")
	}

	event := models.SessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      kind,
		Value:     value,
	}
	if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
		// Losing a diagnostic row must never fail the payment path.
		warnCtx := l.log.WithFields(ctx, map[string]any{
			"checkout_session_id": sessionID.String(),
			"kind":                kind.String(),
			"error":               err.Error(),
		})
		l.log.Warn(warnCtx, "session event write failed")
		return nil
	}
	return nil
}

func (l *diagnosticsLog) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.SessionEvent, error) {
	var events []models.SessionEvent
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list session events")
	}
	return events, nil
}
