package repository

import (
	"context"
	"storefront/internal/model"
	"time"

	"gorm.io/gorm"
)

type CallbackEventRepository interface {
	Record(ctx context.Context, tx *gorm.DB, event *model.CallbackEvent) error
	ListByTransaction(ctx context.Context, transactionCode string) ([]*model.CallbackEvent, error)
}

type callbackEventRepoImpl struct {
	db *gorm.DB
}

func NewCallbackEventRepository(db *gorm.DB) CallbackEventRepository {
	return &callbackEventRepoImpl{db: db}
}

func (r *callbackEventRepoImpl) Record(ctx context.Context, tx *gorm.DB, event *model.CallbackEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	return conn(r.db, tx).WithContext(ctx).Create(event).Error
}

func (r *callbackEventRepoImpl) ListByTransaction(ctx context.Context, transactionCode string) ([]*model.CallbackEvent, error) {
	var events []*model.CallbackEvent
	err := r.db.WithContext(ctx).
		Where("transaction_code = ?", transactionCode).
		Order("id").
		Find(&events).Error

	if err != nil {
		return nil, err
	}

	return events, nil
}
