package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

// Repository persists checkout sessions and enforces their state machine at
// the storage layer. Every transition out of initiated runs as a guarded
// UPDATE so concurrent notification channels cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	FindByTrackID(ctx context.Context, trackID string) (*models.CheckoutSession, error)
	MarkPaid(ctx context.Context, id, orderID uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	MarkInventoryReleased(ctx context.Context, id uuid.UUID) (bool, error)
	BumpReferenceAttempt(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.CheckoutSession, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a session repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find checkout session")
	}
	return &session, nil
}

func (r *repository) FindByTrackID(ctx context.Context, trackID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).First(&session, "track_id = ?", trackID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no checkout session for track id")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find checkout session by track id")
	}
	return &session, nil
}

// MarkPaid moves initiated -> paid and stamps the order id. A repeat call for
// the same outcome is a no-op; a call against any other terminal state is a
// state conflict.
func (r *repository) MarkPaid(ctx context.Context, id, orderID uuid.UUID) error {
	return r.transition(ctx, id, enums.SessionStatusPaid, map[string]any{
		"status":   enums.SessionStatusPaid,
		"order_id": orderID,
	})
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.transition(ctx, id, enums.SessionStatusFailed, map[string]any{
		"status":         enums.SessionStatusFailed,
		"failure_reason": reason,
	})
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, enums.SessionStatusCancelled, map[string]any{
		"status": enums.SessionStatusCancelled,
	})
}

func (r *repository) transition(ctx context.Context, id uuid.UUID, target enums.SessionStatus, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, enums.SessionStatusInitiated).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update checkout session status")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	session, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if session.Status == target {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		"session is "+session.Status.String()+", cannot become "+target.String())
}

// MarkInventoryReleased stamps inventory_released_at exactly once. The bool
// result tells the caller whether it won the stamp and therefore owns the
// actual stock release.
func (r *repository) MarkInventoryReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ? AND inventory_released_at IS NULL", id).
		Update("inventory_released_at", time.Now().UTC())
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark inventory released")
	}
	return res.RowsAffected > 0, nil
}

// BumpReferenceAttempt advances the attempt counter for a retried payment so
// the regenerated gateway reference never collides with the previous one.
func (r *repository) BumpReferenceAttempt(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	res := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, enums.SessionStatusInitiated).
		Update("reference_attempt", gorm.Expr("reference_attempt + 1"))
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "bump reference attempt")
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot retry a settled session")
	}
	return r.FindByID(ctx, id)
}

func (r *repository) SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error {
	err := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Update("payment_id", paymentID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set payment id")
	}
	return nil
}

// ListStale returns initiated sessions older than the cutoff, oldest first.
// Used for the staleness gauge and manual reconciliation, never for automatic
// expiry.
func (r *repository) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.CheckoutSession, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var sessions []models.CheckoutSession
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.SessionStatusInitiated, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale sessions")
	}
	return sessions, nil
}
