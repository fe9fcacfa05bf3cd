package service

import (
	"context"
	"errors"
	"fmt"
	"storefront/internal/client"
	"storefront/internal/model"
	"storefront/internal/repository"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

type SweepReport struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
	Errors    int `json:"errors"`
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*SweepReport, error)
}

type sweeperImpl struct {
	db             *gorm.DB
	ttl            time.Duration
	gateway        client.GatewayClient
	reconciliation ReconciliationService
	orderRepo      repository.OrderRepository
	txnRepo        repository.TransactionRepository
	productRepo    repository.ProductRepository
	couponRepo     repository.CouponRepository
	log            zerolog.Logger
}

func NewSweeper(
	db *gorm.DB,
	ttl time.Duration,
	gateway client.GatewayClient,
	reconciliation ReconciliationService,
	orderRepo repository.OrderRepository,
	txnRepo repository.TransactionRepository,
	productRepo repository.ProductRepository,
	couponRepo repository.CouponRepository,
	log zerolog.Logger,
) Sweeper {
	return &sweeperImpl{
		db:             db,
		ttl:            ttl,
		gateway:        gateway,
		reconciliation: reconciliation,
		orderRepo:      orderRepo,
		txnRepo:        txnRepo,
		productRepo:    productRepo,
		couponRepo:     couponRepo,
		log:            log,
	}
}

// Sweep settles payment attempts older than the pending TTL, asking the
// gateway first so a payment that did go through is applied rather than
// expired, then cancels gateway orders left with no live attempt.
func (s *sweeperImpl) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	cutoff := now.Add(-s.ttl)
	report := &SweepReport{}

	txns, err := s.txnRepo.ListPendingBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}

	for _, txn := range txns {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		s.sweepTransaction(ctx, txn, report)
	}

	orders, err := s.orderRepo.ListStaleUnpaid(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return report, fmt.Errorf("list stale orders: %w", err)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		cancelled, err := s.cancelStale(ctx, order.ID)
		if err != nil {
			report.Errors++
			s.log.Error().Err(err).Str("order_code", order.Code).Msg("cancel stale order")
			continue
		}
		if cancelled {
			report.Cancelled++
		}
	}

	s.log.Info().
		Int("checked", report.Checked).
		Int("confirmed", report.Confirmed).
		Int("expired", report.Expired).
		Int("cancelled", report.Cancelled).
		Int("errors", report.Errors).
		Msg("sweep finished")

	return report, nil
}

func (s *sweeperImpl) sweepTransaction(ctx context.Context, txn *model.PaymentTransaction, report *SweepReport) {
	logger := s.log.With().Str("txn_code", txn.Code).Logger()

	res, err := s.gateway.QueryTransaction(ctx, client.QueryRequest{
		TxnRef:          txn.Code,
		OrderInfo:       "Truy van giao dich " + txn.Code,
		TransactionDate: txn.CreatedAt,
		IPAddr:          "127.0.0.1",
	})
	if err != nil {
		report.Errors++
		logger.Error().Err(err).Msg("query gateway transaction")
		return
	}
	if !res.SignatureValid {
		report.Errors++
		logger.Warn().Msg("gateway query response has invalid signature")
		return
	}

	if res.Paid() {
		if res.TransactionCode == "" {
			res.TransactionCode = txn.Code
		}
		result, err := s.reconciliation.ApplyQueryResult(ctx, res)
		if err != nil {
			report.Errors++
			logger.Error().Err(err).Msg("apply gateway query result")
			return
		}
		if result.Applied {
			report.Confirmed++
		}
		return
	}

	expired, err := s.expire(ctx, txn)
	if err != nil {
		report.Errors++
		logger.Error().Err(err).Msg("expire transaction")
		return
	}
	if expired {
		report.Expired++
		logger.Info().Str("gateway_status", res.TransactionStatus).Msg("payment attempt expired")
	}
}

func (s *sweeperImpl) expire(ctx context.Context, txn *model.PaymentTransaction) (bool, error) {
	var expired bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.orderRepo.FindByIDForUpdate(ctx, tx, txn.OrderID); err != nil {
			return err
		}
		locked, err := s.txnRepo.FindByCodeForUpdate(ctx, tx, txn.Code)
		if err != nil {
			return err
		}
		locked.Status = model.TxnExpired
		expired, err = s.txnRepo.Settle(ctx, tx, locked)
		return err
	})
	return expired, err
}

func (s *sweeperImpl) cancelStale(ctx context.Context, orderID uint) (bool, error) {
	var cancelled bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != model.PaymentUnpaid {
			return nil
		}
		if _, err := s.txnRepo.FindPendingForOrder(ctx, tx, order.ID, model.TxnKindPayment); err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := cancelUnpaid(ctx, tx, s.orderRepo, s.txnRepo, s.productRepo, s.couponRepo, order); err != nil {
			return err
		}
		order.PaymentStatus = model.PaymentFailed
		if err := saveState(ctx, tx, s.orderRepo, order); err != nil {
			return err
		}
		cancelled = true
		s.log.Info().Str("order_code", order.Code).Msg("unpaid order cancelled after pending ttl")
		return nil
	})
	return cancelled, err
}
