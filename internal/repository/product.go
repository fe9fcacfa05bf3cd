package repository

import (
	"context"
	"storefront/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, product *model.Product) error
	List(ctx context.Context) ([]*model.Product, error)
	FindVariant(ctx context.Context, tx *gorm.DB, variantID uint) (*model.Variant, error)
	FindVariants(ctx context.Context, tx *gorm.DB, variantIDs []uint) ([]*model.Variant, error)
	DecrementStock(ctx context.Context, tx *gorm.DB, variantID uint, qty int64) (bool, error)
	IncrementStock(ctx context.Context, tx *gorm.DB, variantID uint, qty int64) error
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

// Upsert inserts or refreshes a product and its variants keyed by SKU.
func (r *productRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, product *model.Product) error {
	db := conn(r.db, tx).WithContext(ctx)
	variants := product.Variants
	product.Variants = nil

	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sku"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":        product.Name,
			"description": product.Description,
			"updated_at":  time.Now(),
		}),
	}).Create(product).Error
	if err != nil {
		return err
	}

	var stored model.Product
	if err := db.Where("sku = ?", product.SKU).First(&stored).Error; err != nil {
		return err
	}
	product.ID = stored.ID

	for i := range variants {
		v := &variants[i]
		v.ProductID = product.ID
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "sku"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"product_id": v.ProductID,
				"name":       v.Name,
				"price":      v.Price,
				"stock":      v.Stock,
				"updated_at": time.Now(),
			}),
		}).Create(v).Error
		if err != nil {
			return err
		}
	}

	return db.Where("product_id = ?", product.ID).Order("id").Find(&product.Variants).Error
}

func (r *productRepoImpl) List(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("id").
		Find(&products).Error

	if err != nil {
		return nil, err
	}

	return products, nil
}

func (r *productRepoImpl) FindVariant(ctx context.Context, tx *gorm.DB, variantID uint) (*model.Variant, error) {
	var variant model.Variant
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Product").
		Where("id = ?", variantID).
		First(&variant).Error

	if err != nil {
		return nil, err
	}

	return &variant, nil
}

func (r *productRepoImpl) FindVariants(ctx context.Context, tx *gorm.DB, variantIDs []uint) ([]*model.Variant, error) {
	var variants []*model.Variant
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Product").
		Where("id IN ?", variantIDs).
		Order("id").
		Find(&variants).Error

	if err != nil {
		return nil, err
	}

	return variants, nil
}

// DecrementStock takes qty units only if that many are available. It
// reports false, without error, when stock is short.
func (r *productRepoImpl) DecrementStock(ctx context.Context, tx *gorm.DB, variantID uint, qty int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.Variant{}).
		Where("id = ? AND stock >= ?", variantID, qty).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *productRepoImpl) IncrementStock(ctx context.Context, tx *gorm.DB, variantID uint, qty int64) error {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.Variant{}).
		Where("id = ?", variantID).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", qty),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
