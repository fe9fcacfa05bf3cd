package repository

import (
	"context"
	"storefront/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CouponRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, coupon *model.Coupon) error
	FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Coupon, error)
	Redeem(ctx context.Context, tx *gorm.DB, code string) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, code string) error
}

type couponRepoImpl struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepoImpl{
		db: db,
	}
}

func (r *couponRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, coupon *model.Coupon) error {
	return conn(r.db, tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"percent":          coupon.Percent,
			"amount":           coupon.Amount,
			"max_discount":     coupon.MaxDiscount,
			"min_order_amount": coupon.MinOrderAmount,
			"usage_limit":      coupon.UsageLimit,
			"active":           coupon.Active,
			"expires_at":       coupon.ExpiresAt,
			"updated_at":       time.Now(),
		}),
	}).Create(coupon).Error
}

func (r *couponRepoImpl) FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Coupon, error) {
	var coupon model.Coupon
	err := conn(r.db, tx).WithContext(ctx).
		Where("code = ?", code).
		First(&coupon).Error

	if err != nil {
		return nil, err
	}

	return &coupon, nil
}

// Redeem counts one use of the coupon unless its usage limit is reached.
func (r *couponRepoImpl) Redeem(ctx context.Context, tx *gorm.DB, code string) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.Coupon{}).
		Where("code = ? AND active = ? AND (usage_limit = 0 OR used_count < usage_limit)", code, true).
		Updates(map[string]interface{}{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *couponRepoImpl) Release(ctx context.Context, tx *gorm.DB, code string) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.Coupon{}).
		Where("code = ? AND used_count > 0", code).
		Updates(map[string]interface{}{
			"used_count": gorm.Expr("used_count - 1"),
			"updated_at": time.Now(),
		}).Error
}
