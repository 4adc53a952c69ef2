package checkout

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/internal/checkout/reservation"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ItemInput is one requested cart line. Prices come from the catalog, never
// from the caller.
type ItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"required,gt=0"`
}

// CreateSessionInput carries everything needed to open a payment attempt.
type CreateSessionInput struct {
	UserID          uuid.UUID
	Items           []ItemInput
	ShippingAddress types.Address
	PaymentMethod   enums.PaymentGateway
}

// Service owns the checkout session lifecycle: snapshot creation with stock
// reservation, the guarded transitions out of initiated, and the single
// release of reserved stock on failure or cancellation.
type Service interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*models.CheckoutSession, error)
	GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.CheckoutSession, error)
	CancelSession(ctx context.Context, sessionID, userID uuid.UUID) error
	FailSession(ctx context.Context, sessionID uuid.UUID, reason string) error
	RetryReference(ctx context.Context, sessionID uuid.UUID) (*models.CheckoutSession, error)
	RecordEvent(ctx context.Context, sessionID uuid.UUID, kind enums.SessionEventKind, value string) error
	SessionEvents(ctx context.Context, sessionID, userID uuid.UUID) ([]models.SessionEvent, error)
}

type service struct {
	tx          txRunner
	sessions    Repository
	products    ProductLoader
	diagnostics DiagnosticsLog
	log         *logger.Logger
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	sessions Repository,
	products ProductLoader,
	diagnostics DiagnosticsLog,
	log *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session repository required")
	}
	if products == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "product loader required")
	}
	if diagnostics == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "diagnostics log required")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		tx:          tx,
		sessions:    sessions,
		products:    products,
		diagnostics: diagnostics,
		log:         log,
	}, nil
}

// CreateSession freezes the cart into a snapshot and reserves stock inside
// one transaction. Either every line reserves and the session exists, or
// neither.
func (s *service) CreateSession(ctx context.Context, input CreateSessionInput) (*models.CheckoutSession, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	var created *models.CheckoutSession
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		sessions := s.sessions.WithTx(tx)

		ids := make([]uuid.UUID, len(input.Items))
		for i, item := range input.Items {
			ids[i] = item.ProductID
		}
		catalog, err := products.FindActiveByIDs(ctx, ids)
		if err != nil {
			return err
		}

		snapshot := make(types.SessionItems, 0, len(input.Items))
		requests := make([]reservation.Reservation, 0, len(input.Items))
		for _, item := range input.Items {
			product, ok := catalog[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound,
					fmt.Sprintf("product %s is unavailable", item.ProductID)).
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			snapshot = append(snapshot, types.SessionItem{
				ProductID: product.ID,
				Name:      product.Name,
				ImageURL:  product.ImageURL,
				Qty:       item.Qty,
				UnitPrice: product.Price,
			})
			requests = append(requests, reservation.Reservation{ProductID: item.ProductID, Qty: item.Qty})
		}

		if err := reservation.ReserveBatch(ctx, tx, requests); err != nil {
			return err
		}

		now := time.Now().UTC()
		session := &models.CheckoutSession{
			ID:                  uuid.New(),
			UserID:              input.UserID,
			Items:               snapshot,
			ShippingAddress:     input.ShippingAddress,
			Total:               snapshot.Subtotal(),
			PaymentMethod:       input.PaymentMethod,
			Status:              enums.SessionStatusInitiated,
			InventoryReservedAt: &now,
			TrackID:             newTrackID(),
		}
		if err := sessions.Create(ctx, session); err != nil {
			return err
		}
		created = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.log.WithSessionID(ctx, created.ID.String())
	s.log.Info(s.log.WithField(logCtx, "track_id", created.TrackID), "checkout session created")
	return created, nil
}

func (s *service) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.CheckoutSession, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != uuid.Nil && session.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	return session, nil
}

// CancelSession settles an initiated session as cancelled and returns its
// reserved stock. Cancelling twice is a no-op; cancelling a paid or failed
// session is a state conflict.
func (s *service) CancelSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	return s.settle(ctx, session, enums.SessionStatusCancelled, "")
}

// FailSession settles a session as failed after a definitive gateway decline.
// Callers must check pkgerrors.IsIndeterminate before routing an error here:
// indeterminate outcomes keep the session initiated and the stock reserved.
func (s *service) FailSession(ctx context.Context, sessionID uuid.UUID, reason string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.settle(ctx, session, enums.SessionStatusFailed, reason)
}

func (s *service) settle(ctx context.Context, session *models.CheckoutSession, target enums.SessionStatus, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)

		var err error
		switch target {
		case enums.SessionStatusCancelled:
			err = sessions.MarkCancelled(ctx, session.ID)
		case enums.SessionStatusFailed:
			err = sessions.MarkFailed(ctx, session.ID, reason)
		default:
			err = pkgerrors.New(pkgerrors.CodeInternal, "settle supports failed and cancelled only")
		}
		if err != nil {
			return err
		}

		// The released-at stamp is the single-release guard: whichever
		// settlement path wins it performs the actual ledger release.
		won, err := sessions.MarkInventoryReleased(ctx, session.ID)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if err := reservation.ReleaseBatch(ctx, tx, reservation.FromSessionItems(session.Items)); err != nil {
			return err
		}

		logCtx := s.log.WithSessionID(ctx, session.ID.String())
		s.log.Info(s.log.WithField(logCtx, "status", target.String()), "checkout session settled")
		return nil
	})
}

// RetryReference prepares a fresh gateway reference for another payment
// attempt on the same session.
func (s *service) RetryReference(ctx context.Context, sessionID uuid.UUID) (*models.CheckoutSession, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return s.sessions.BumpReferenceAttempt(ctx, sessionID)
}

func (s *service) RecordEvent(ctx context.Context, sessionID uuid.UUID, kind enums.SessionEventKind, value string) error {
	return s.diagnostics.Record(ctx, sessionID, kind, value)
}

// SessionEvents returns the diagnostic trail for one of the caller's
// sessions, oldest first.
func (s *service) SessionEvents(ctx context.Context, sessionID, userID uuid.UUID) ([]models.SessionEvent, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.diagnostics.ListBySession(ctx, sessionID)
}

func validateCreateInput(input CreateSessionInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "item product id required")
		}
		if item.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if _, dup := seen[item.ProductID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate product in items")
		}
		seen[item.ProductID] = struct{}{}
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if field := input.ShippingAddress.Validate(); field != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address missing "+field)
	}
	return nil
}

// newTrackID generates the digits-only correlation id echoed back by gateway
// callbacks. Hosted-page providers cap reference length, hence 15 digits
// rather than a UUID.
func newTrackID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%015d", time.Now().UnixNano()%1_000_000_000_000_000)
	}
	n := binary.BigEndian.Uint64(buf[:]) % 1_000_000_000_000_000
	return fmt.Sprintf("%015d", n)
}
