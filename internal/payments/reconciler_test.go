package payments

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/internal/checkout"
	"github.com/noorcart/noorcart-backend/internal/orders"
	"github.com/noorcart/noorcart-backend/pkg/config"
	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/logger"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// scriptedAdapter returns canned outcomes so tests can exercise each
// reconciler path without a gateway on the wire.
type scriptedAdapter struct {
	gateway enums.PaymentGateway

	initiate      *InitiateResult
	initiateErr   error
	returnOutcome *NormalizedOutcome
	returnErr     error
	webhook       *NormalizedOutcome
	webhookErr    error
	status        *NormalizedOutcome
	statusErr     error

	mu          sync.Mutex
	statusCalls int
}

func (a *scriptedAdapter) Gateway() enums.PaymentGateway { return a.gateway }

func (a *scriptedAdapter) Initiate(context.Context, *models.CheckoutSession) (*InitiateResult, error) {
	return a.initiate, a.initiateErr
}

func (a *scriptedAdapter) VerifyReturn(context.Context, url.Values) (*NormalizedOutcome, error) {
	return a.returnOutcome, a.returnErr
}

func (a *scriptedAdapter) VerifyWebhook(context.Context, []byte) (*NormalizedOutcome, error) {
	return a.webhook, a.webhookErr
}

func (a *scriptedAdapter) Status(context.Context, *models.CheckoutSession) (*NormalizedOutcome, error) {
	a.mu.Lock()
	a.statusCalls++
	a.mu.Unlock()
	return a.status, a.statusErr
}

func (a *scriptedAdapter) TrackIDFromReturn(params url.Values) string {
	return params.Get("trackid")
}

type fakeGuard struct {
	mu     sync.Mutex
	marks  map[string]bool
	setErr error
	dels   []string
}

func (g *fakeGuard) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if g.setErr != nil {
		return false, g.setErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.marks == nil {
		g.marks = map[string]bool{}
	}
	if g.marks[key] {
		return false, nil
	}
	g.marks[key] = true
	return true, nil
}

func (g *fakeGuard) Del(_ context.Context, keys ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range keys {
		delete(g.marks, key)
		g.dels = append(g.dels, key)
	}
	return nil
}

func (g *fakeGuard) WebhookEventKey(gateway, eventID string) string {
	return "wh:" + gateway + ":" + eventID
}

type fixture struct {
	db      *gorm.DB
	adapter *scriptedAdapter
	guard   *fakeGuard
	rec     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.InventoryItem{},
		&models.CheckoutSession{},
		&models.SessionEvent{},
		&models.Order{},
		&models.OrderLineItem{},
	))

	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	sessions := checkout.NewRepository(db)
	products := checkout.NewProductLoader(db)
	svc, err := checkout.NewService(testTxRunner{db: db}, sessions, products, checkout.NewDiagnosticsLog(db, log), log)
	require.NoError(t, err)
	mat, err := orders.NewMaterializer(testTxRunner{db: db}, orders.NewRepository(db), sessions, products, nil, log)
	require.NoError(t, err)

	adapter := &scriptedAdapter{gateway: enums.GatewayKPay}
	guard := &fakeGuard{}
	rec, err := NewReconciler(
		NewRegistry(adapter), sessions, svc, mat, guard, nil, log,
		config.PollConfig{Attempts: 2, Interval: time.Millisecond},
	)
	require.NoError(t, err)

	return &fixture{db: db, adapter: adapter, guard: guard, rec: rec}
}

func (f *fixture) seedSession(t *testing.T, qty, stock int) *models.CheckoutSession {
	t.Helper()

	productID := uuid.New()
	require.NoError(t, f.db.Create(&models.Product{
		ID:     productID,
		SKU:    "sku-" + uuid.NewString()[:8],
		Name:   "Widget",
		Price:  decimal.RequireFromString("2.500"),
		Active: true,
	}).Error)
	require.NoError(t, f.db.Create(&models.InventoryItem{
		ProductID:    productID,
		AvailableQty: stock - qty,
		ReservedQty:  qty,
	}).Error)

	now := time.Now().UTC()
	session := &models.CheckoutSession{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Items: types.SessionItems{{
			ProductID: productID,
			Name:      "Widget",
			Qty:       qty,
			UnitPrice: decimal.RequireFromString("2.500"),
		}},
		ShippingAddress:     types.Address{Name: "A", Phone: "1", Line1: "x", City: "y", Country: "KW"},
		Total:               decimal.RequireFromString("2.500").Mul(decimal.NewFromInt(int64(qty))),
		PaymentMethod:       enums.GatewayKPay,
		Status:              enums.SessionStatusInitiated,
		InventoryReservedAt: &now,
		TrackID:             uuid.NewString()[:15],
	}
	require.NoError(t, f.db.Create(session).Error)
	return session
}

func capturedOutcome(session *models.CheckoutSession) *NormalizedOutcome {
	return &NormalizedOutcome{
		Result:        ResultCaptured,
		TrackID:       session.TrackID,
		TransactionID: "txn-" + session.TrackID,
		AuthCode:      "A001",
		ReferenceCode: session.ReferenceNumber(),
		AmountPaid:    session.Total,
		Raw:           types.JSONMap{"result": "CAPTURED"},
	}
}

func (f *fixture) reloadSession(t *testing.T, id uuid.UUID) *models.CheckoutSession {
	t.Helper()
	var session models.CheckoutSession
	require.NoError(t, f.db.First(&session, "id = ?", id).Error)
	return &session
}

func (f *fixture) inventory(t *testing.T, productID uuid.UUID) *models.InventoryItem {
	t.Helper()
	var inv models.InventoryItem
	require.NoError(t, f.db.First(&inv, "product_id = ?", productID).Error)
	return &inv
}

func TestHandleWebhookCapturedCreatesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 2, 10)
	f.adapter.webhook = capturedOutcome(session)

	resolution, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{"trandata":"x"}`))
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.False(t, resolution.Duplicate)
	require.NotNil(t, resolution.Order)

	reloaded := f.reloadSession(t, session.ID)
	require.Equal(t, enums.SessionStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.OrderID)

	inv := f.inventory(t, session.Items[0].ProductID)
	require.Equal(t, 8, inv.AvailableQty)
	require.Equal(t, 0, inv.ReservedQty)
}

func TestHandleWebhookRedeliveryIsDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.webhook = capturedOutcome(session)
	body := []byte(`{"trandata":"x"}`)

	_, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, body)
	require.NoError(t, err)

	resolution, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, body)
	require.NoError(t, err)
	require.True(t, resolution.Duplicate)
	require.True(t, resolution.Settled)

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Where("checkout_session_id = ?", session.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestHandleWebhookProcessesWhenGuardIsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.webhook = capturedOutcome(session)
	f.guard.setErr = errors.New("connection refused")

	resolution, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{}`))
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.Equal(t, enums.SessionStatusPaid, f.reloadSession(t, session.ID).Status)
}

func TestHandleWebhookUnmarksOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.adapter.webhook = &NormalizedOutcome{
		Result:        ResultCaptured,
		TrackID:       "no-such-track",
		TransactionID: "txn-orphan",
		AmountPaid:    decimal.RequireFromString("1.000"),
	}

	_, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{}`))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	// The mark is gone so the gateway's retry gets a clean run.
	require.Contains(t, f.guard.dels, f.guard.WebhookEventKey("kpay", "txn-orphan"))
}

func TestHandleWebhookDeclinedFailsSessionAndReleasesStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 2, 10)
	f.adapter.webhook = &NormalizedOutcome{
		Result:  ResultDeclined,
		TrackID: session.TrackID,
		Reason:  "DENIED BY RISK",
	}

	resolution, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{}`))
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.Nil(t, resolution.Order)

	reloaded := f.reloadSession(t, session.ID)
	require.Equal(t, enums.SessionStatusFailed, reloaded.Status)
	require.NotNil(t, reloaded.FailureReason)
	require.Equal(t, "DENIED BY RISK", *reloaded.FailureReason)

	inv := f.inventory(t, session.Items[0].ProductID)
	require.Equal(t, 10, inv.AvailableQty)
	require.Equal(t, 0, inv.ReservedQty)
}

func TestHandleWebhookLateDeclineOnPaidSessionReturnsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 2, 10)
	f.adapter.webhook = capturedOutcome(session)

	first, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{"evt":"1"}`))
	require.NoError(t, err)
	require.NotNil(t, first.Order)

	// An out-of-order decline for a settled payment must not reopen it.
	f.adapter.webhook = &NormalizedOutcome{
		Result:        ResultDeclined,
		TrackID:       session.TrackID,
		TransactionID: "txn-late-" + session.TrackID,
		Reason:        "DENIED BY RISK",
	}
	second, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{"evt":"2"}`))
	require.NoError(t, err)
	require.True(t, second.Settled)
	require.NotNil(t, second.Order)
	require.Equal(t, first.Order.ID, second.Order.ID)

	reloaded := f.reloadSession(t, session.ID)
	require.Equal(t, enums.SessionStatusPaid, reloaded.Status)
	require.Nil(t, reloaded.FailureReason)

	inv := f.inventory(t, session.Items[0].ProductID)
	require.Equal(t, 8, inv.AvailableQty)
	require.Equal(t, 0, inv.ReservedQty)
}

func TestHandleWebhookAmountMismatchLeavesSessionUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 2, 10)
	outcome := capturedOutcome(session)
	outcome.AmountPaid = session.Total.Add(decimal.RequireFromString("0.050"))
	f.adapter.webhook = outcome

	_, err := f.rec.HandleWebhook(context.Background(), enums.GatewayKPay, []byte(`{}`))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeAmountMismatch, typed.Code())

	// An unverifiable amount settles nothing: session open, stock held.
	reloaded := f.reloadSession(t, session.ID)
	require.Equal(t, enums.SessionStatusInitiated, reloaded.Status)

	inv := f.inventory(t, session.Items[0].ProductID)
	require.Equal(t, 2, inv.ReservedQty)
}

func TestHandleReturnVerifiedPayloadSettles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.returnOutcome = capturedOutcome(session)

	resolution, err := f.rec.HandleReturn(context.Background(), enums.GatewayKPay, url.Values{})
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.NotNil(t, resolution.Order)
}

func TestHandleReturnIndeterminateFallsBackToStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.returnErr = pkgerrors.New(pkgerrors.CodeSignature, "secure hash mismatch")
	f.adapter.status = capturedOutcome(session)

	params := url.Values{"trackid": {session.TrackID}}
	resolution, err := f.rec.HandleReturn(context.Background(), enums.GatewayKPay, params)
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.Equal(t, 1, f.adapter.statusCalls)
	require.Equal(t, enums.SessionStatusPaid, f.reloadSession(t, session.ID).Status)
}

func TestHandleReturnSurfacesVerifyErrorWhenFallbackFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedSession(t, 1, 5)
	f.adapter.returnErr = pkgerrors.New(pkgerrors.CodeSignature, "secure hash mismatch")

	// No track id in the payload, so the fallback cannot locate the session.
	_, err := f.rec.HandleReturn(context.Background(), enums.GatewayKPay, url.Values{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeSignature, typed.Code())
}

func TestHandleReturnNonIndeterminateErrorIsFinal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.returnErr = pkgerrors.New(pkgerrors.CodeValidation, "malformed payload")
	f.adapter.status = capturedOutcome(session)

	params := url.Values{"trackid": {session.TrackID}}
	_, err := f.rec.HandleReturn(context.Background(), enums.GatewayKPay, params)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	require.Equal(t, 0, f.adapter.statusCalls)
}

func TestPollShortCircuitsTerminalSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	require.NoError(t, f.db.Model(&models.CheckoutSession{}).
		Where("id = ?", session.ID).
		Update("status", enums.SessionStatusPaid).Error)

	resolution, err := f.rec.Poll(context.Background(), session.ID)
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.Equal(t, 0, f.adapter.statusCalls)
}

func TestPollSettlesWhenStatusCaptures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.status = capturedOutcome(session)

	resolution, err := f.rec.Poll(context.Background(), session.ID)
	require.NoError(t, err)
	require.True(t, resolution.Settled)
	require.NotNil(t, resolution.Order)
	require.Equal(t, enums.SessionStatusPaid, f.reloadSession(t, session.ID).Status)
}

func TestPollExhaustedLeavesSessionOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.status = &NormalizedOutcome{Result: ResultPending, TrackID: session.TrackID}

	resolution, err := f.rec.Poll(context.Background(), session.ID)
	require.NoError(t, err)
	require.False(t, resolution.Settled)

	// Polling ran out of attempts but decided nothing.
	reloaded := f.reloadSession(t, session.ID)
	require.Equal(t, enums.SessionStatusInitiated, reloaded.Status)
	require.Equal(t, 1, f.inventory(t, session.Items[0].ProductID).ReservedQty)
	require.GreaterOrEqual(t, f.adapter.statusCalls, 2)
}

func TestInitiateStoresGatewayPaymentID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.initiate = &InitiateResult{RedirectURL: "https://pay.example/redirect", PaymentID: "inv-42"}

	result, err := f.rec.Initiate(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/redirect", result.RedirectURL)

	reloaded := f.reloadSession(t, session.ID)
	require.NotNil(t, reloaded.PaymentID)
	require.Equal(t, "inv-42", *reloaded.PaymentID)
}

func TestInitiateRejectsSettledSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	session.Status = enums.SessionStatusFailed

	_, err := f.rec.Initiate(context.Background(), session)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestReconcileStaleSettlesConfirmedSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.status = capturedOutcome(session)

	settled, err := f.rec.ReconcileStale(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	require.Equal(t, enums.SessionStatusPaid, f.reloadSession(t, session.ID).Status)
}

func TestReconcileStaleLeavesPendingSessionsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.seedSession(t, 1, 5)
	f.adapter.status = &NormalizedOutcome{Result: ResultPending, TrackID: session.TrackID}

	settled, err := f.rec.ReconcileStale(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Zero(t, settled)
	require.Equal(t, enums.SessionStatusInitiated, f.reloadSession(t, session.ID).Status)
}

func TestObserveStaleSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedSession(t, 1, 5)

	require.NoError(t, f.rec.ObserveStaleSessions(context.Background(), 0))
}
