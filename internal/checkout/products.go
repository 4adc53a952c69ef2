package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noorcart/noorcart-backend/pkg/db/models"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

// ProductLoader resolves catalog rows for snapshotting. Catalog writes happen
// elsewhere; checkout only ever reads.
type ProductLoader interface {
	WithTx(tx *gorm.DB) ProductLoader
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type productLoader struct {
	db *gorm.DB
}

// NewProductLoader builds a catalog reader backed by the provided DB.
func NewProductLoader(db *gorm.DB) ProductLoader {
	if db == nil {
		return nil
	}
	return &productLoader{db: db}
}

func (l *productLoader) WithTx(tx *gorm.DB) ProductLoader {
	if tx == nil {
		return l
	}
	return &productLoader{db: tx}
}

func (l *productLoader) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	return l.find(ctx, ids, true)
}

// FindByIDs resolves products regardless of active flag. Order
// materialization only requires that the row still exists; a product pulled
// from sale mid-payment must not void a captured charge.
func (l *productLoader) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	return l.find(ctx, ids, false)
}

func (l *productLoader) find(ctx context.Context, ids []uuid.UUID, activeOnly bool) (map[uuid.UUID]models.Product, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.Product{}, nil
	}

	query := l.db.WithContext(ctx).Where("id IN ?", ids)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	return byID, nil
}
