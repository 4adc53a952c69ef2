package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/pkg/db/models"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
	"github.com/noorcart/noorcart-backend/pkg/types"
)

// Reservation is one product/quantity pair against the stock ledger.
type Reservation struct {
	ProductID uuid.UUID
	Qty       int
}

// FromSessionItems maps a frozen cart snapshot onto ledger operations.
func FromSessionItems(items types.SessionItems) []Reservation {
	out := make([]Reservation, len(items))
	for i, item := range items {
		out[i] = Reservation{ProductID: item.ProductID, Qty: item.Qty}
	}
	return out
}

// ErrProductMissing reports a release against a product that no longer exists.
// Callers log it; it never fails a broader rollback.
var ErrProductMissing = errors.New("inventory row missing")

// Reserve atomically checks available_qty >= qty and moves qty from available
// to reserved. The guard lives in the UPDATE's WHERE clause so two concurrent
// checkouts can never both act on stale availability.
func Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (int, error) {
	if qty <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "reservation qty must be positive")
	}

	res := tx.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ? AND available_qty >= ?", productID, qty).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty - ?", qty),
			"reserved_qty":  gorm.Expr("reserved_qty + ?", qty),
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
	}
	if res.RowsAffected == 0 {
		return 0, insufficientOrMissing(ctx, tx, productID, qty)
	}

	var item models.InventoryItem
	if err := tx.WithContext(ctx).First(&item, "product_id = ?", productID).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read inventory level")
	}
	return item.AvailableQty, nil
}

// Release atomically returns qty from reserved back to available.
func Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "release qty must be positive")
	}

	res := tx.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty + ?", qty),
			"reserved_qty":  gorm.Expr("reserved_qty - ?", qty),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("release %s: %w", productID, ErrProductMissing)
	}
	return nil
}

// Commit converts a reservation into a sale by burning qty from reserved
// without restoring it to available. Guarded the same way as Reserve so a
// double commit cannot drive reserved_qty negative.
func Commit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "commit qty must be positive")
	}

	res := tx.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ? AND reserved_qty >= ?", productID, qty).
		Update("reserved_qty", gorm.Expr("reserved_qty - ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "commit inventory")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("product %s has fewer than %d units reserved", productID, qty))
	}
	return nil
}

// CommitBatch commits every item or fails on the first shortfall. Callers run
// it inside the paid transaction so a partial commit rolls back with it.
func CommitBatch(ctx context.Context, tx *gorm.DB, items []Reservation) error {
	for _, item := range items {
		if err := Commit(ctx, tx, item.ProductID, item.Qty); err != nil {
			return err
		}
	}
	return nil
}

// ReserveBatch reserves items in order. On the first failure it releases
// everything reserved so far and reports which product failed.
func ReserveBatch(ctx context.Context, tx *gorm.DB, items []Reservation) error {
	for i, item := range items {
		if _, err := Reserve(ctx, tx, item.ProductID, item.Qty); err != nil {
			rollbackErr := ReleaseBatch(ctx, tx, items[:i])
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInsufficientStock {
				err = typed.WithDetails(map[string]any{"product_id": item.ProductID})
			}
			return multierr.Append(err, rollbackErr)
		}
	}
	return nil
}

// ReleaseBatch releases each item, aggregating rather than short-circuiting:
// a missing product must not strand the remaining releases.
func ReleaseBatch(ctx context.Context, tx *gorm.DB, items []Reservation) error {
	var errs error
	for _, item := range items {
		if err := Release(ctx, tx, item.ProductID, item.Qty); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func insufficientOrMissing(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	var item models.InventoryItem
	err := tx.WithContext(ctx).First(&item, "product_id = ?", productID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s has no inventory", productID))
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "inspect inventory")
	default:
		return pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("requested %d, available %d", qty, item.AvailableQty))
	}
}
