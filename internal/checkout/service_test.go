package checkout

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

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

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.InventoryItem{},
		&models.CheckoutSession{},
		&models.SessionEvent{},
	))

	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(
		testTxRunner{db: db},
		NewRepository(db),
		NewProductLoader(db),
		NewDiagnosticsLog(db, log),
		log,
	)
	require.NoError(t, err)
	return svc, db
}

func seedProduct(t *testing.T, db *gorm.DB, price string, stock int) uuid.UUID {
	t.Helper()
	product := models.Product{
		ID:     uuid.New(),
		SKU:    "sku-" + uuid.NewString()[:8],
		Name:   "Test Product",
		Price:  decimal.RequireFromString(price),
		Active: true,
	}
	require.NoError(t, db.Create(&product).Error)
	require.NoError(t, db.Create(&models.InventoryItem{ProductID: product.ID, AvailableQty: stock}).Error)
	return product.ID
}

func testAddress() types.Address {
	return types.Address{
		Name:    "Sara A",
		Phone:   "+96550000000",
		Line1:   "Block 4, Street 12",
		City:    "Kuwait City",
		Area:    "Salmiya",
		Country: "KW",
	}
}

func TestCreateSessionFreezesSnapshotAndReservesStock(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productID := seedProduct(t, db, "4.500", 10)
	userID := uuid.New()

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          userID,
		Items:           []ItemInput{{ProductID: productID, Qty: 2}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayKPay,
	})
	require.NoError(t, err)
	require.Equal(t, enums.SessionStatusInitiated, session.Status)
	require.Len(t, session.TrackID, 15)
	require.True(t, session.Total.Equal(decimal.RequireFromString("9.000")), "total %s", session.Total)
	require.Len(t, session.Items, 1)
	require.True(t, session.Items[0].UnitPrice.Equal(decimal.RequireFromString("4.500")))
	require.NotNil(t, session.InventoryReservedAt)

	// Repricing the catalog must not move the frozen snapshot.
	require.NoError(t, db.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("price", decimal.RequireFromString("9.999")).Error)
	reloaded, err := svc.GetSession(ctx, session.ID, userID)
	require.NoError(t, err)
	require.True(t, reloaded.Total.Equal(decimal.RequireFromString("9.000")))

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", productID).Error)
	require.Equal(t, 8, inv.AvailableQty)
	require.Equal(t, 2, inv.ReservedQty)
}

func TestCreateSessionInsufficientStockLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productA := seedProduct(t, db, "1.000", 5)
	productB := seedProduct(t, db, "2.000", 1)

	_, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID: uuid.New(),
		Items: []ItemInput{
			{ProductID: productA, Qty: 2},
			{ProductID: productB, Qty: 3},
		},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayCheckout,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	var sessionCount int64
	require.NoError(t, db.Model(&models.CheckoutSession{}).Count(&sessionCount).Error)
	require.Zero(t, sessionCount)

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", productA).Error)
	require.Equal(t, 5, inv.AvailableQty)
	require.Zero(t, inv.ReservedQty)
}

func TestCreateSessionRejectsUnknownProduct(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	_, err := svc.CreateSession(context.Background(), CreateSessionInput{
		UserID:          uuid.New(),
		Items:           []ItemInput{{ProductID: uuid.New(), Qty: 1}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayWallet,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestCreateSessionValidatesInput(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	productID := seedProduct(t, db, "1.000", 5)

	cases := []struct {
		name  string
		input CreateSessionInput
	}{
		{"missing user", CreateSessionInput{
			Items:           []ItemInput{{ProductID: productID, Qty: 1}},
			ShippingAddress: testAddress(),
			PaymentMethod:   enums.GatewayKPay,
		}},
		{"empty items", CreateSessionInput{
			UserID:          uuid.New(),
			ShippingAddress: testAddress(),
			PaymentMethod:   enums.GatewayKPay,
		}},
		{"zero qty", CreateSessionInput{
			UserID:          uuid.New(),
			Items:           []ItemInput{{ProductID: productID, Qty: 0}},
			ShippingAddress: testAddress(),
			PaymentMethod:   enums.GatewayKPay,
		}},
		{"duplicate product", CreateSessionInput{
			UserID: uuid.New(),
			Items: []ItemInput{
				{ProductID: productID, Qty: 1},
				{ProductID: productID, Qty: 2},
			},
			ShippingAddress: testAddress(),
			PaymentMethod:   enums.GatewayKPay,
		}},
		{"bad gateway", CreateSessionInput{
			UserID:          uuid.New(),
			Items:           []ItemInput{{ProductID: productID, Qty: 1}},
			ShippingAddress: testAddress(),
			PaymentMethod:   enums.PaymentGateway("paypal"),
		}},
		{"bad address", CreateSessionInput{
			UserID:        uuid.New(),
			Items:         []ItemInput{{ProductID: productID, Qty: 1}},
			PaymentMethod: enums.GatewayKPay,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSession(context.Background(), tc.input)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed, "expected typed error")
			require.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestCancelSessionReleasesStockExactlyOnce(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productID := seedProduct(t, db, "3.000", 4)
	userID := uuid.New()

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          userID,
		Items:           []ItemInput{{ProductID: productID, Qty: 3}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayCheckout,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CancelSession(ctx, session.ID, userID))
	// Idempotent repeat.
	require.NoError(t, svc.CancelSession(ctx, session.ID, userID))

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", productID).Error)
	require.Equal(t, 4, inv.AvailableQty)
	require.Zero(t, inv.ReservedQty)

	reloaded, err := svc.GetSession(ctx, session.ID, userID)
	require.NoError(t, err)
	require.Equal(t, enums.SessionStatusCancelled, reloaded.Status)
	require.NotNil(t, reloaded.InventoryReleasedAt)
}

func TestFailSessionRecordsReasonAndReleases(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productID := seedProduct(t, db, "2.500", 2)

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          uuid.New(),
		Items:           []ItemInput{{ProductID: productID, Qty: 2}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayKPay,
	})
	require.NoError(t, err)

	require.NoError(t, svc.FailSession(ctx, session.ID, "declined by issuer"))

	var reloaded models.CheckoutSession
	require.NoError(t, db.First(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, enums.SessionStatusFailed, reloaded.Status)
	require.NotNil(t, reloaded.FailureReason)
	require.Equal(t, "declined by issuer", *reloaded.FailureReason)

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", productID).Error)
	require.Equal(t, 2, inv.AvailableQty)
}

func TestCancelPaidSessionIsStateConflict(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productID := seedProduct(t, db, "1.000", 2)
	userID := uuid.New()

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          userID,
		Items:           []ItemInput{{ProductID: productID, Qty: 1}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayWallet,
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.CheckoutSession{}).
		Where("id = ?", session.ID).
		Update("status", enums.SessionStatusPaid).Error)

	err = svc.CancelSession(ctx, session.ID, userID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestRetryReferenceBumpsAttempt(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productID := seedProduct(t, db, "1.000", 2)
	userID := uuid.New()

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          userID,
		Items:           []ItemInput{{ProductID: productID, Qty: 1}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayKPay,
	})
	require.NoError(t, err)
	require.Equal(t, session.TrackID, session.ReferenceNumber())

	bumped, err := svc.RetryReference(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, bumped.ReferenceAttempt)
	require.Equal(t, session.TrackID+"-1", bumped.ReferenceNumber())

	require.NoError(t, db.Model(&models.CheckoutSession{}).
		Where("id = ?", session.ID).
		Update("status", enums.SessionStatusFailed).Error)
	_, err = svc.RetryReference(ctx, session.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestGetSessionScopedToOwner(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	productID := seedProduct(t, db, "1.000", 2)
	owner := uuid.New()

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          owner,
		Items:           []ItemInput{{ProductID: productID, Qty: 1}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayCheckout,
	})
	require.NoError(t, err)

	_, err = svc.GetSession(ctx, session.ID, uuid.New())
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRecordEventAppendsDiagnostics(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, svc.RecordEvent(ctx, sessionID, enums.SessionEventSDKOpened, ""))
	require.NoError(t, svc.RecordEvent(ctx, sessionID, enums.SessionEventWalletState, enums.WalletStateConfirming.String()))

	var events []models.SessionEvent
	require.NoError(t, db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&events).Error)
	require.Len(t, events, 2)
	require.Equal(t, enums.SessionEventSDKOpened, events[0].Kind)
	require.Equal(t, enums.WalletStateConfirming.String(), events[1].Value)
}

func TestSessionEventsScopedToOwner(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	productID := seedProduct(t, db, "2.500", 5)

	session, err := svc.CreateSession(ctx, CreateSessionInput{
		UserID:          owner,
		Items:           []ItemInput{{ProductID: productID, Qty: 1}},
		ShippingAddress: testAddress(),
		PaymentMethod:   enums.GatewayWallet,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RecordEvent(ctx, session.ID, enums.SessionEventSDKOpened, ""))
	require.NoError(t, svc.RecordEvent(ctx, session.ID, enums.SessionEventWalletState, enums.WalletStateConfirming.String()))

	events, err := svc.SessionEvents(ctx, session.ID, owner)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, enums.SessionEventSDKOpened, events[0].Kind)

	_, err = svc.SessionEvents(ctx, session.ID, uuid.New())
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
