package repository

import (
	"context"
	"storefront/internal/model"
	"time"

	"gorm.io/gorm"
)

type OrderFilter struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	PaymentMethod model.PaymentMethod
	NeedsReview   *bool
	Email         string
	Limit         int
	Offset        int
}

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Order, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*model.Order, error)
	FindByCodeForUpdate(ctx context.Context, tx *gorm.DB, code string) (*model.Order, error)
	UpdateState(ctx context.Context, tx *gorm.DB, order *model.Order) error
	UpdateShipping(ctx context.Context, tx *gorm.DB, shipping *model.Shipping) error
	List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error)
	ListStaleUnpaid(ctx context.Context, before time.Time, limit int) ([]*model.Order, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

// Create inserts the order together with its items and shipping row.
func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return conn(r.db, tx).WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Order, error) {
	var order model.Order
	err := r.withDetails(conn(r.db, tx).WithContext(ctx)).
		Where("code = ?", code).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*model.Order, error) {
	var order model.Order
	err := r.withDetails(forUpdate(conn(r.db, tx).WithContext(ctx))).
		Where("id = ?", id).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByCodeForUpdate(ctx context.Context, tx *gorm.DB, code string) (*model.Order, error) {
	var order model.Order
	err := r.withDetails(forUpdate(conn(r.db, tx).WithContext(ctx))).
		Where("code = ?", code).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Shipping").
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
}

// UpdateState writes the order's mutable state if nobody else has changed it
// since it was read, and bumps its version.
func (r *orderRepoImpl) UpdateState(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	now := time.Now()
	result := conn(r.db, tx).WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
			"stock_reserved": order.StockReserved,
			"needs_review":   order.NeedsReview,
			"review_reason":  order.ReviewReason,
			"version":        order.Version + 1,
			"updated_at":     now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	order.Version++
	order.UpdatedAt = now
	return nil
}

func (r *orderRepoImpl) UpdateShipping(ctx context.Context, tx *gorm.DB, shipping *model.Shipping) error {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.Shipping{}).
		Where("id = ?", shipping.ID).
		Updates(map[string]interface{}{
			"status":          shipping.Status,
			"carrier":         shipping.Carrier,
			"tracking_number": shipping.TrackingNumber,
			"updated_at":      time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *orderRepoImpl) List(ctx context.Context, filter OrderFilter) ([]*model.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.PaymentMethod != "" {
		q = q.Where("payment_method = ?", filter.PaymentMethod)
	}
	if filter.NeedsReview != nil {
		q = q.Where("needs_review = ?", *filter.NeedsReview)
	}
	if filter.Email != "" {
		q = q.Where("email = ?", filter.Email)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var orders []*model.Order
	err := q.Preload("Shipping").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// ListStaleUnpaid returns gateway orders still awaiting payment that were
// created before the cutoff and have no pending payment transaction.
func (r *orderRepoImpl) ListStaleUnpaid(ctx context.Context, before time.Time, limit int) ([]*model.Order, error) {
	pending := r.db.Model(&model.PaymentTransaction{}).
		Select("1").
		Where("payment_transactions.order_id = orders.id AND payment_transactions.status = ?", model.TxnPending)

	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("payment_method = ?", model.PaymentMethodGateway).
		Where("payment_status = ?", model.PaymentUnpaid).
		Where("status IN ?", []model.OrderStatus{model.OrderPending, model.OrderConfirmed}).
		Where("created_at < ?", before).
		Where("NOT EXISTS (?)", pending).
		Order("id").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}
