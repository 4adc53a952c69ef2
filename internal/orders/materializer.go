package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/internal/checkout"
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

// TokenCapture is a reusable credential extracted from a successful gateway
// response, handed to the vault after materialization.
type TokenCapture struct {
	Plaintext   string
	CardBrand   string
	CardLast4   string
	ExpiryMonth int
	ExpiryYear  int
}

// TokenSaver vaults captured tokens. Implemented by the tokens package.
type TokenSaver interface {
	Save(ctx context.Context, userID uuid.UUID, gateway enums.PaymentGateway, capture TokenCapture) error
}

// MaterializeInput carries the confirmed payment a channel verified.
type MaterializeInput struct {
	Session       *models.CheckoutSession
	TransactionID string
	AuthCode      string
	ReferenceCode string
	RawResponse   types.JSONMap
	Token         *TokenCapture
}

// Materializer turns a confirmed payment into a durable order exactly once,
// no matter how many notification channels deliver the confirmation.
type Materializer interface {
	Materialize(ctx context.Context, input MaterializeInput) (*models.Order, error)
}

type materializer struct {
	tx       txRunner
	orders   Repository
	sessions checkout.Repository
	products checkout.ProductLoader
	vault    TokenSaver
	log      *logger.Logger
}

// NewMaterializer builds the order materializer. The vault is optional; a nil
// saver disables token capture.
func NewMaterializer(
	tx txRunner,
	ordersRepo Repository,
	sessions checkout.Repository,
	products checkout.ProductLoader,
	vault TokenSaver,
	log *logger.Logger,
) (Materializer, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if ordersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session repository required")
	}
	if products == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "product loader required")
	}
	if log == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &materializer{
		tx:       tx,
		orders:   ordersRepo,
		sessions: sessions,
		products: products,
		vault:    vault,
		log:      log,
	}, nil
}

// Materialize runs the paid transition as one transaction: insert the order,
// copy the snapshot into line items, burn the reservations, and mark the
// session paid. A session that already points at an order short-circuits to
// that order without touching the ledger again.
func (m *materializer) Materialize(ctx context.Context, input MaterializeInput) (*models.Order, error) {
	session := input.Session
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session required")
	}
	if session.Status == enums.SessionStatusPaid && session.OrderID != nil {
		return m.orders.FindByID(ctx, *session.OrderID)
	}
	if session.Status.IsTerminal() && session.Status != enums.SessionStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			"session is "+session.Status.String()+", cannot materialize an order")
	}

	if err := m.revalidateProducts(ctx, session); err != nil {
		return nil, err
	}

	var (
		result  *models.Order
		created bool
	)
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := m.orders.WithTx(tx)
		sessions := m.sessions.WithTx(tx)

		order := buildOrder(session, input)
		persisted, didCreate, err := ordersRepo.InsertOrGetExisting(ctx, order)
		if err != nil {
			return err
		}
		result, created = persisted, didCreate
		if !didCreate {
			// Another channel already materialized. Converge the session
			// pointer and stop; the ledger was burned by the winner.
			return sessions.MarkPaid(ctx, session.ID, persisted.ID)
		}

		if err := ordersRepo.CreateLineItems(ctx, buildLineItems(persisted.ID, session)); err != nil {
			return err
		}
		if err := reservation.CommitBatch(ctx, tx, reservation.FromSessionItems(session.Items)); err != nil {
			return err
		}
		return sessions.MarkPaid(ctx, session.ID, persisted.ID)
	})
	if err != nil {
		return nil, err
	}

	logCtx := m.log.WithSessionID(ctx, session.ID.String())
	logCtx = m.log.WithFields(logCtx, map[string]any{
		"order_id": result.ID.String(),
		"created":  created,
	})
	m.log.Info(logCtx, "order materialized")

	if created && input.Token != nil && m.vault != nil {
		// Best effort and detached: the paid response never waits on the
		// vault, and a vault failure never rolls back a paid order.
		capture := *input.Token
		saveCtx := context.WithoutCancel(logCtx)
		go func() {
			if err := m.vault.Save(saveCtx, session.UserID, session.PaymentMethod, capture); err != nil {
				m.log.Warn(m.log.WithField(saveCtx, "error", err.Error()), "token vault save failed")
			}
		}()
	}

	if created {
		return m.orders.FindByID(ctx, result.ID)
	}
	return result, nil
}

// revalidateProducts confirms every snapshot line still points at a catalog
// row. A vanished product fails the session and returns its stock; charging
// the shopper for a row we cannot reference is worse than the manual refund.
func (m *materializer) revalidateProducts(ctx context.Context, session *models.CheckoutSession) error {
	ids := make([]uuid.UUID, len(session.Items))
	for i, item := range session.Items {
		ids[i] = item.ProductID
	}
	catalog, err := m.products.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := catalog[id]; ok {
			continue
		}
		failErr := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
			sessions := m.sessions.WithTx(tx)
			if err := sessions.MarkFailed(ctx, session.ID, "product removed before settlement"); err != nil {
				return err
			}
			won, err := sessions.MarkInventoryReleased(ctx, session.ID)
			if err != nil || !won {
				return err
			}
			return reservation.ReleaseBatch(ctx, tx, reservation.FromSessionItems(session.Items))
		})
		if failErr != nil {
			return failErr
		}
		return pkgerrors.New(pkgerrors.CodeNotFound,
			"product "+id.String()+" no longer exists").
			WithDetails(map[string]any{"product_id": id})
	}
	return nil
}

func buildOrder(session *models.CheckoutSession, input MaterializeInput) *models.Order {
	order := &models.Order{
		ID:                 uuid.New(),
		UserID:             session.UserID,
		CheckoutSessionID:  session.ID,
		Total:              session.Total,
		PaymentStatus:      enums.PaymentStatusPaid,
		FulfillmentStatus:  enums.FulfillmentStatusPending,
		PaymentMethod:      session.PaymentMethod,
		InventoryStatus:    enums.InventoryStatusSold,
		RawGatewayResponse: input.RawResponse,
	}
	if input.TransactionID != "" {
		order.TransactionID = &input.TransactionID
	}
	if input.AuthCode != "" {
		order.AuthCode = &input.AuthCode
	}
	if input.ReferenceCode != "" {
		order.ReferenceCode = &input.ReferenceCode
	}
	return order
}

func buildLineItems(orderID uuid.UUID, session *models.CheckoutSession) []models.OrderLineItem {
	items := make([]models.OrderLineItem, len(session.Items))
	for i, item := range session.Items {
		items[i] = models.OrderLineItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Qty:       item.Qty,
			Total:     item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))),
		}
	}
	return items
}
