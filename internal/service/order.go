package service

import (
	"context"
	"fmt"
	"storefront/internal/model"
	"storefront/internal/repository"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type OrderService interface {
	Get(ctx context.Context, code string) (*model.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error)
	Confirm(ctx context.Context, code string) (*model.Order, error)
	Ship(ctx context.Context, code, carrier, trackingNumber string) (*model.Order, error)
	UpdateShipping(ctx context.Context, code string, status model.ShippingStatus) (*model.Order, error)
	Cancel(ctx context.Context, code, reason string) (*model.Order, error)
	ResolveReview(ctx context.Context, code string) (*model.Order, error)
}

type orderServiceImpl struct {
	db          *gorm.DB
	notifier    NotificationDispatcher
	orderRepo   repository.OrderRepository
	txnRepo     repository.TransactionRepository
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
	log         zerolog.Logger
}

func NewOrderService(
	db *gorm.DB,
	notifier NotificationDispatcher,
	orderRepo repository.OrderRepository,
	txnRepo repository.TransactionRepository,
	productRepo repository.ProductRepository,
	couponRepo repository.CouponRepository,
	log zerolog.Logger,
) OrderService {
	return &orderServiceImpl{
		db:          db,
		notifier:    notifier,
		orderRepo:   orderRepo,
		txnRepo:     txnRepo,
		productRepo: productRepo,
		couponRepo:  couponRepo,
		log:         log,
	}
}

func (s *orderServiceImpl) Get(ctx context.Context, code string) (*model.Order, error) {
	order, err := s.orderRepo.FindByCode(ctx, nil, code)
	if err != nil {
		return nil, notFound(err, "order %s", code)
	}
	return order, nil
}

func (s *orderServiceImpl) List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %q", filter.Status)}
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, 0, &ValidationError{Field: "payment_status", Message: fmt.Sprintf("unknown payment status %q", filter.PaymentStatus)}
	}
	return s.orderRepo.List(ctx, filter)
}

// mutate runs fn against the locked order and persists its state.
func (s *orderServiceImpl) mutate(ctx context.Context, code string, fn func(tx *gorm.DB, order *model.Order) error) (*model.Order, error) {
	var order *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orderRepo.FindByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return notFound(err, "order %s", code)
		}
		if err := fn(tx, order); err != nil {
			return err
		}
		return saveState(ctx, tx, s.orderRepo, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Confirm is the operator confirmation of a pending cash-on-delivery order.
// Gateway orders are confirmed by their payment.
func (s *orderServiceImpl) Confirm(ctx context.Context, code string) (*model.Order, error) {
	order, err := s.mutate(ctx, code, func(tx *gorm.DB, order *model.Order) error {
		if order.PaymentMethod != model.PaymentMethodCOD {
			return fmt.Errorf("%w: gateway order %s is confirmed by payment", ErrInvalidTransition, order.Code)
		}
		next, err := order.Status.TransitionTo(model.OrderConfirmed)
		if err != nil {
			return invalidTransition(err)
		}
		order.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Msg("order confirmed by operator")
	s.notifier.NotifyConfirmed(ctx, order)
	return order, nil
}

func (s *orderServiceImpl) Ship(ctx context.Context, code, carrier, trackingNumber string) (*model.Order, error) {
	carrier = strings.TrimSpace(carrier)
	trackingNumber = strings.TrimSpace(trackingNumber)
	if carrier == "" {
		return nil, &ValidationError{Field: "carrier", Message: "is required"}
	}
	if trackingNumber == "" {
		return nil, &ValidationError{Field: "tracking_number", Message: "is required"}
	}

	order, err := s.mutate(ctx, code, func(tx *gorm.DB, order *model.Order) error {
		next, err := order.Status.TransitionTo(model.OrderShipped)
		if err != nil {
			return invalidTransition(err)
		}
		if order.Shipping == nil {
			return fmt.Errorf("shipping for order %s: %w", order.Code, ErrNotFound)
		}
		shipping, err := order.Shipping.Status.TransitionTo(model.ShippingInTransit)
		if err != nil {
			return invalidTransition(err)
		}

		order.Status = next
		order.Shipping.Status = shipping
		order.Shipping.Carrier = carrier
		order.Shipping.TrackingNumber = trackingNumber
		return s.orderRepo.UpdateShipping(ctx, tx, order.Shipping)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Str("carrier", carrier).Msg("order shipped")
	return order, nil
}

// UpdateShipping moves the shipment and carries the order along: delivery
// marks the order delivered, evaluation completes a paid order, and a
// return of an unpaid order puts its stock back.
func (s *orderServiceImpl) UpdateShipping(ctx context.Context, code string, status model.ShippingStatus) (*model.Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown shipping status %q", status)}
	}

	order, err := s.mutate(ctx, code, func(tx *gorm.DB, order *model.Order) error {
		if order.Shipping == nil {
			return fmt.Errorf("shipping for order %s: %w", order.Code, ErrNotFound)
		}
		next, err := order.Shipping.Status.TransitionTo(status)
		if err != nil {
			return invalidTransition(err)
		}
		order.Shipping.Status = next

		switch next {
		case model.ShippingDelivered:
			if order.Status != model.OrderDelivered && order.Status.CanTransitionTo(model.OrderDelivered) {
				order.Status = model.OrderDelivered
			}
		case model.ShippingEvaluated:
			if order.PaymentStatus == model.PaymentPaid && order.Status.CanTransitionTo(model.OrderCompleted) {
				order.Status = model.OrderCompleted
			}
		case model.ShippingReturned:
			if order.PaymentStatus == model.PaymentUnpaid && order.Status.CanTransitionTo(model.OrderReturned) {
				order.Status = model.OrderReturned
				order.PaymentStatus = model.PaymentFailed
				if err := releaseStock(ctx, tx, s.productRepo, order); err != nil {
					return err
				}
			}
		}

		return s.orderRepo.UpdateShipping(ctx, tx, order.Shipping)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Str("shipping_status", string(status)).Msg("shipping updated")
	return order, nil
}

// Cancel cancels an order that has not been paid. Paid orders go through refund.
func (s *orderServiceImpl) Cancel(ctx context.Context, code, reason string) (*model.Order, error) {
	order, err := s.mutate(ctx, code, func(tx *gorm.DB, order *model.Order) error {
		if order.PaymentStatus != model.PaymentUnpaid {
			return fmt.Errorf("%w: order %s payment is %s, refund instead", ErrInvalidTransition, order.Code, order.PaymentStatus)
		}
		if order.Status != model.OrderPending && order.Status != model.OrderConfirmed {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.Code, order.Status)
		}
		return cancelUnpaid(ctx, tx, s.orderRepo, s.txnRepo, s.productRepo, s.couponRepo, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Str("reason", reason).Msg("order cancelled")
	return order, nil
}

func (s *orderServiceImpl) ResolveReview(ctx context.Context, code string) (*model.Order, error) {
	order, err := s.mutate(ctx, code, func(tx *gorm.DB, order *model.Order) error {
		if !order.NeedsReview {
			return &ValidationError{Field: "needs_review", Message: "order is not flagged for review"}
		}
		order.NeedsReview = false
		order.ReviewReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Msg("order review resolved")
	return order, nil
}

// cancelUnpaid cancels the locked order, expires its pending attempts and
// gives back its stock and coupon use. The caller saves the order.
func cancelUnpaid(
	ctx context.Context,
	tx *gorm.DB,
	orderRepo repository.OrderRepository,
	txnRepo repository.TransactionRepository,
	productRepo repository.ProductRepository,
	couponRepo repository.CouponRepository,
	order *model.Order,
) error {
	next, err := order.Status.TransitionTo(model.OrderCancelled)
	if err != nil {
		return invalidTransition(err)
	}
	order.Status = next

	if order.Shipping != nil && order.Shipping.Status.CanTransitionTo(model.ShippingNone) {
		order.Shipping.Status = model.ShippingNone
		if err := orderRepo.UpdateShipping(ctx, tx, order.Shipping); err != nil {
			return fmt.Errorf("update shipping: %w", err)
		}
	}

	if _, err := txnRepo.ExpirePendingForOrder(ctx, tx, order.ID); err != nil {
		return fmt.Errorf("expire pending transactions: %w", err)
	}
	if err := releaseStock(ctx, tx, productRepo, order); err != nil {
		return err
	}
	if order.CouponCode != "" {
		if err := couponRepo.Release(ctx, tx, order.CouponCode); err != nil {
			return fmt.Errorf("release coupon: %w", err)
		}
	}
	return nil
}
