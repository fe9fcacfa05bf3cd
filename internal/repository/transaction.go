package repository

import (
	"context"
	"storefront/internal/model"
	"time"

	"gorm.io/gorm"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) error
	FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.PaymentTransaction, error)
	FindByCodeForUpdate(ctx context.Context, tx *gorm.DB, code string) (*model.PaymentTransaction, error)
	Settle(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) (bool, error)
	ExpirePendingForOrder(ctx context.Context, tx *gorm.DB, orderID uint) (int64, error)
	FindPendingForOrder(ctx context.Context, tx *gorm.DB, orderID uint, kind model.TransactionKind) (*model.PaymentTransaction, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.PaymentTransaction, error)
}

type transactionRepoImpl struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepoImpl{
		db: db,
	}
}

func (r *transactionRepoImpl) Create(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(txn).Error
}

func (r *transactionRepoImpl) FindByCode(ctx context.Context, tx *gorm.DB, code string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("code = ?", code).
		First(&txn).Error

	if err != nil {
		return nil, err
	}

	return &txn, nil
}

func (r *transactionRepoImpl) FindByCodeForUpdate(ctx context.Context, tx *gorm.DB, code string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).
		Where("code = ?", code).
		First(&txn).Error

	if err != nil {
		return nil, err
	}

	return &txn, nil
}

// Settle moves a pending transaction to its terminal status. It reports
// false when the transaction had already left pending.
func (r *transactionRepoImpl) Settle(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ? AND status = ?", txn.ID, model.TxnPending).
		Updates(map[string]interface{}{
			"status":                 txn.Status,
			"bank_code":              txn.BankCode,
			"response_code":          txn.ResponseCode,
			"gateway_transaction_no": txn.GatewayTransactionNo,
			"paid_at":                txn.PaidAt,
			"raw_payload":            txn.RawPayload,
			"updated_at":             time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *transactionRepoImpl) ExpirePendingForOrder(ctx context.Context, tx *gorm.DB, orderID uint) (int64, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("order_id = ? AND kind = ? AND status = ?", orderID, model.TxnKindPayment, model.TxnPending).
		Updates(map[string]interface{}{
			"status":     model.TxnExpired,
			"updated_at": time.Now(),
		})

	return result.RowsAffected, result.Error
}

func (r *transactionRepoImpl) FindPendingForOrder(ctx context.Context, tx *gorm.DB, orderID uint, kind model.TransactionKind) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("order_id = ? AND kind = ? AND status = ?", orderID, kind, model.TxnPending).
		Order("id DESC").
		First(&txn).Error

	if err != nil {
		return nil, err
	}

	return &txn, nil
}

// ListPendingBefore returns gateway payment attempts created before the
// cutoff that never reached a terminal status.
func (r *transactionRepoImpl) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("kind = ? AND payment_method = ? AND status = ?", model.TxnKindPayment, model.PaymentMethodGateway, model.TxnPending).
		Where("created_at < ?", before).
		Order("id").
		Limit(limit).
		Find(&txns).Error

	if err != nil {
		return nil, err
	}

	return txns, nil
}
