package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"storefront/internal/client"
	"storefront/internal/model"
	"storefront/internal/repository"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CallbackSource string

const (
	SourceIPN    CallbackSource = "ipn"
	SourceReturn CallbackSource = "return"
	SourceQuery  CallbackSource = "query"
)

type ReconcileResult struct {
	OrderCode         string
	TransactionCode   string
	Outcome           string
	Duplicate         bool
	Applied           bool
	OrderStatus       model.OrderStatus
	PaymentStatus     model.PaymentStatus
	TransactionStatus model.TransactionStatus
	FinalAmount       int64
	Currency          string
}

type ReconciliationService interface {
	HandleGatewayCallback(ctx context.Context, source CallbackSource, params url.Values) (*ReconcileResult, error)
	ApplyQueryResult(ctx context.Context, res *client.QueryResult) (*ReconcileResult, error)
	ConfirmCODDelivery(ctx context.Context, orderCode string) (*model.Order, error)
	RequestRefund(ctx context.Context, orderCode, reason string) (*model.Order, error)
	CompleteRefund(ctx context.Context, orderCode string) (*model.Order, error)
}

type reconciliationServiceImpl struct {
	db          *gorm.DB
	gateway     client.GatewayClient
	notifier    NotificationDispatcher
	orderRepo   repository.OrderRepository
	txnRepo     repository.TransactionRepository
	productRepo repository.ProductRepository
	eventRepo   repository.CallbackEventRepository
	log         zerolog.Logger
}

func NewReconciliationService(
	db *gorm.DB,
	gateway client.GatewayClient,
	notifier NotificationDispatcher,
	orderRepo repository.OrderRepository,
	txnRepo repository.TransactionRepository,
	productRepo repository.ProductRepository,
	eventRepo repository.CallbackEventRepository,
	log zerolog.Logger,
) ReconciliationService {
	return &reconciliationServiceImpl{
		db:          db,
		gateway:     gateway,
		notifier:    notifier,
		orderRepo:   orderRepo,
		txnRepo:     txnRepo,
		productRepo: productRepo,
		eventRepo:   eventRepo,
		log:         log,
	}
}

func (s *reconciliationServiceImpl) HandleGatewayCallback(ctx context.Context, source CallbackSource, params url.Values) (*ReconcileResult, error) {
	cb, err := s.gateway.VerifyCallback(params)
	if !cb.SignatureValid {
		s.recordRejected(ctx, source, cb.TransactionCode, cb.Raw)
		return &ReconcileResult{TransactionCode: cb.TransactionCode, Outcome: model.CallbackInvalidSignature}, ErrSignatureMismatch
	}
	if err != nil {
		return nil, &ValidationError{Field: "callback", Message: err.Error()}
	}

	return s.apply(ctx, source, cb)
}

func (s *reconciliationServiceImpl) ApplyQueryResult(ctx context.Context, res *client.QueryResult) (*ReconcileResult, error) {
	if !res.SignatureValid {
		s.recordRejected(ctx, SourceQuery, res.TransactionCode, res.Raw)
		return &ReconcileResult{TransactionCode: res.TransactionCode, Outcome: model.CallbackInvalidSignature}, ErrSignatureMismatch
	}

	return s.apply(ctx, SourceQuery, &client.CallbackResult{
		TransactionCode:      res.TransactionCode,
		Amount:               res.Amount,
		MinorAmount:          res.MinorAmount,
		ResponseCode:         res.ResponseCode,
		TransactionStatus:    res.TransactionStatus,
		BankCode:             res.BankCode,
		GatewayTransactionNo: res.GatewayTransactionNo,
		PayDate:              res.PayDate,
		SignatureValid:       true,
		Raw:                  res.Raw,
	})
}

func (s *reconciliationServiceImpl) recordRejected(ctx context.Context, source CallbackSource, txnCode string, raw map[string]string) {
	s.log.Warn().
		Str("source", string(source)).
		Str("txn_code", txnCode).
		Msg("gateway callback rejected: invalid signature")

	err := s.eventRepo.Record(ctx, nil, &model.CallbackEvent{
		TransactionCode: txnCode,
		Source:          string(source),
		Outcome:         model.CallbackInvalidSignature,
		Payload:         rawPayload(raw),
	})
	if err != nil {
		s.log.Error().Err(err).Str("txn_code", txnCode).Msg("record rejected callback")
	}
}

func rawPayload(raw map[string]string) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// apply runs the reconciliation state machine for a verified gateway result.
// Outcomes that must still be recorded (unknown reference, amount mismatch)
// commit the audit row and are reported through outcomeErr.
func (s *reconciliationServiceImpl) apply(ctx context.Context, source CallbackSource, cb *client.CallbackResult) (*ReconcileResult, error) {
	payload := rawPayload(cb.Raw)
	result := &ReconcileResult{TransactionCode: cb.TransactionCode}

	var outcomeErr error
	var confirmed *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := &model.CallbackEvent{
			TransactionCode: cb.TransactionCode,
			Source:          string(source),
			Payload:         payload,
		}
		record := func(outcome, detail string) error {
			result.Outcome = outcome
			event.Outcome = outcome
			event.Detail = truncate(detail, 255)
			if err := s.eventRepo.Record(ctx, tx, event); err != nil {
				return fmt.Errorf("record callback event: %w", err)
			}
			return nil
		}

		ref, err := s.txnRepo.FindByCode(ctx, tx, cb.TransactionCode)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load transaction %s: %w", cb.TransactionCode, err)
		}
		if ref == nil || ref.Kind != model.TxnKindPayment {
			outcomeErr = ErrUnknownReference
			return record(model.CallbackUnknownReference, "no payment transaction with this reference")
		}

		// Order row first, then its transaction, like every other writer.
		order, err := s.orderRepo.FindByIDForUpdate(ctx, tx, ref.OrderID)
		if err != nil {
			return notFound(err, "order %d", ref.OrderID)
		}
		txn, err := s.txnRepo.FindByCodeForUpdate(ctx, tx, cb.TransactionCode)
		if err != nil {
			return fmt.Errorf("lock transaction %s: %w", cb.TransactionCode, err)
		}
		result.OrderCode = order.Code
		result.FinalAmount = order.FinalAmount
		result.Currency = order.Currency
		defer func() {
			result.OrderStatus = order.Status
			result.PaymentStatus = order.PaymentStatus
			result.TransactionStatus = txn.Status
		}()

		if txn.Status.IsTerminal() {
			result.Duplicate = true
			detail := fmt.Sprintf("transaction already %s", txn.Status)
			if txn.Status == model.TxnExpired && cb.Success() {
				detail = "late payment success on expired transaction"
				flagForReview(order, fmt.Sprintf("late payment success on expired transaction %s", txn.Code))
				if err := saveState(ctx, tx, s.orderRepo, order); err != nil {
					return err
				}
			}
			return record(model.CallbackDuplicate, detail)
		}

		if cb.Amount != txn.Amount || cb.Amount != order.FinalAmount {
			detail := fmt.Sprintf("callback amount %d, transaction %d, order %d", cb.Amount, txn.Amount, order.FinalAmount)
			flagForReview(order, "amount mismatch: "+detail)
			if err := saveState(ctx, tx, s.orderRepo, order); err != nil {
				return err
			}
			outcomeErr = ErrAmountMismatch
			return record(model.CallbackAmountMismatch, detail)
		}

		txn.ResponseCode = cb.ResponseCode
		txn.GatewayTransactionNo = cb.GatewayTransactionNo
		if cb.BankCode != "" {
			txn.BankCode = cb.BankCode
		}
		txn.RawPayload = payload

		if !cb.Success() {
			txn.Status = model.TxnFailed
			if err := s.settle(ctx, tx, txn); err != nil {
				return err
			}
			return record(model.CallbackFailed, fmt.Sprintf("response code %s, transaction status %s", cb.ResponseCode, cb.TransactionStatus))
		}

		if order.PaymentStatus != model.PaymentUnpaid {
			txn.Status = model.TxnFailed
			if err := s.settle(ctx, tx, txn); err != nil {
				return err
			}
			flagForReview(order, fmt.Sprintf("duplicate payment via %s while payment is %s", txn.Code, order.PaymentStatus))
			if err := saveState(ctx, tx, s.orderRepo, order); err != nil {
				return err
			}
			return record(model.CallbackDuplicatePayment, "order no longer awaiting payment")
		}

		now := time.Now()
		txn.Status = model.TxnSuccess
		txn.PaidAt = &now
		if err := s.settle(ctx, tx, txn); err != nil {
			return err
		}

		if order.PaymentStatus, err = order.PaymentStatus.TransitionTo(model.PaymentPaid); err != nil {
			return invalidTransition(err)
		}
		if order.Status == model.OrderPending {
			if order.Status, err = order.Status.TransitionTo(model.OrderConfirmed); err != nil {
				return invalidTransition(err)
			}
		}

		if !order.StockReserved {
			err := reserveStock(ctx, tx, s.productRepo, order.Items)
			var shortfall *InsufficientStockError
			switch {
			case errors.As(err, &shortfall):
				flagForReview(order, "stock shortfall after payment: "+shortfall.Error())
			case err != nil:
				return err
			default:
				order.StockReserved = true
			}
		}

		if err := saveState(ctx, tx, s.orderRepo, order); err != nil {
			return err
		}

		result.Applied = true
		confirmed = order
		return record(model.CallbackApplied, "payment confirmed")
	})
	if err != nil {
		s.log.Error().Err(err).Str("source", string(source)).Str("txn_code", cb.TransactionCode).Msg("reconcile gateway result")
		return nil, err
	}

	logEvent := s.log.Info()
	if outcomeErr != nil {
		logEvent = s.log.Warn().AnErr("outcome_err", outcomeErr)
	}
	logEvent.
		Str("source", string(source)).
		Str("txn_code", cb.TransactionCode).
		Str("order_code", result.OrderCode).
		Str("outcome", result.Outcome).
		Msg("gateway result reconciled")

	if confirmed != nil {
		s.notifier.NotifyConfirmed(ctx, confirmed)
	}

	return result, outcomeErr
}

func (s *reconciliationServiceImpl) settle(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction) error {
	ok, err := s.txnRepo.Settle(ctx, tx, txn)
	if err != nil {
		return fmt.Errorf("settle transaction %s: %w", txn.Code, err)
	}
	if !ok {
		return fmt.Errorf("settle transaction %s: %w", txn.Code, ErrConcurrentUpdate)
	}
	return nil
}

func (s *reconciliationServiceImpl) ConfirmCODDelivery(ctx context.Context, orderCode string) (*model.Order, error) {
	var order *model.Order
	notify := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orderRepo.FindByCodeForUpdate(ctx, tx, orderCode)
		if err != nil {
			return notFound(err, "order %s", orderCode)
		}
		if order.PaymentMethod != model.PaymentMethodCOD {
			return fmt.Errorf("%w: order %s is not cash on delivery", ErrInvalidTransition, order.Code)
		}

		if order.PaymentStatus == model.PaymentUnpaid {
			order.PaymentStatus = model.PaymentPaid
			// a confirmed order was already announced
			notify = order.Status == model.OrderPending

			now := time.Now()
			err := s.txnRepo.Create(ctx, tx, &model.PaymentTransaction{
				OrderID:       order.ID,
				Code:          newTransactionCode(),
				Kind:          model.TxnKindPayment,
				Amount:        order.FinalAmount,
				Status:        model.TxnSuccess,
				PaymentMethod: model.PaymentMethodCOD,
				PaidAt:        &now,
			})
			if err != nil {
				return fmt.Errorf("store cod payment: %w", err)
			}
		} else if order.PaymentStatus != model.PaymentPaid {
			return fmt.Errorf("%w: order %s payment is %s", ErrInvalidTransition, order.Code, order.PaymentStatus)
		}

		if order.Status, err = order.Status.TransitionTo(model.OrderCompleted); err != nil {
			return invalidTransition(err)
		}

		if order.Shipping != nil && order.Shipping.Status != model.ShippingDelivered {
			if order.Shipping.Status, err = order.Shipping.Status.TransitionTo(model.ShippingDelivered); err != nil {
				return invalidTransition(err)
			}
			if err := s.orderRepo.UpdateShipping(ctx, tx, order.Shipping); err != nil {
				return fmt.Errorf("update shipping: %w", err)
			}
		}

		return saveState(ctx, tx, s.orderRepo, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Bool("newly_paid", notify).Msg("cod delivery confirmed")
	if notify {
		s.notifier.NotifyConfirmed(ctx, order)
	}

	return order, nil
}

func (s *reconciliationServiceImpl) RequestRefund(ctx context.Context, orderCode, reason string) (*model.Order, error) {
	var order *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orderRepo.FindByCodeForUpdate(ctx, tx, orderCode)
		if err != nil {
			return notFound(err, "order %s", orderCode)
		}

		if order.PaymentStatus, err = order.PaymentStatus.TransitionTo(model.PaymentRefundProcessing); err != nil {
			return invalidTransition(err)
		}

		refund := &model.PaymentTransaction{
			OrderID:       order.ID,
			Code:          newTransactionCode(),
			Kind:          model.TxnKindRefund,
			Amount:        order.FinalAmount,
			Status:        model.TxnPending,
			PaymentMethod: order.PaymentMethod,
			RawPayload:    rawPayload(map[string]string{"reason": reason}),
		}
		if err := s.txnRepo.Create(ctx, tx, refund); err != nil {
			return fmt.Errorf("store refund transaction: %w", err)
		}

		return saveState(ctx, tx, s.orderRepo, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Str("reason", reason).Msg("refund requested")
	return order, nil
}

func (s *reconciliationServiceImpl) CompleteRefund(ctx context.Context, orderCode string) (*model.Order, error) {
	var order *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orderRepo.FindByCodeForUpdate(ctx, tx, orderCode)
		if err != nil {
			return notFound(err, "order %s", orderCode)
		}

		if order.PaymentStatus, err = order.PaymentStatus.TransitionTo(model.PaymentRefunded); err != nil {
			return invalidTransition(err)
		}

		refund, err := s.txnRepo.FindPendingForOrder(ctx, tx, order.ID, model.TxnKindRefund)
		if err != nil {
			return notFound(err, "pending refund for order %s", order.Code)
		}
		now := time.Now()
		refund.Status = model.TxnSuccess
		refund.PaidAt = &now
		if err := s.settle(ctx, tx, refund); err != nil {
			return err
		}

		next := model.OrderCancelled
		if order.Status == model.OrderDelivered || order.Status == model.OrderCompleted {
			next = model.OrderReturned
		}
		if order.Status, err = order.Status.TransitionTo(next); err != nil {
			return invalidTransition(err)
		}

		if sh := order.Shipping; sh != nil {
			target := model.ShippingNone
			if next == model.OrderReturned {
				target = model.ShippingReturned
			}
			if sh.Status.CanTransitionTo(target) {
				sh.Status = target
				if err := s.orderRepo.UpdateShipping(ctx, tx, sh); err != nil {
					return fmt.Errorf("update shipping: %w", err)
				}
			}
		}

		if err := releaseStock(ctx, tx, s.productRepo, order); err != nil {
			return err
		}

		return saveState(ctx, tx, s.orderRepo, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Str("status", string(order.Status)).Msg("refund completed")
	return order, nil
}
