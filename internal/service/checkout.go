package service

import (
	"context"
	"errors"
	"fmt"
	"storefront/internal/client"
	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/repository"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ShippingInput struct {
	RecipientName string
	Phone         string
	AddressLine   string
	Ward          string
	District      string
	City          string
}

type CheckoutInput struct {
	CartID        string
	UserID        *uint
	Email         string
	Shipping      ShippingInput
	PaymentMethod model.PaymentMethod
	CouponCode    string
	BankCode      string
	ClientIP      string
}

type CheckoutResult struct {
	Order       *model.Order
	RedirectURL string
}

type CheckoutService interface {
	Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	CreatePaymentAttempt(ctx context.Context, orderCode, clientIP string) (*CheckoutResult, error)
}

type checkoutServiceImpl struct {
	db          *gorm.DB
	cfg         config.Checkout
	gateway     client.GatewayClient
	notifier    NotificationDispatcher
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
	orderRepo   repository.OrderRepository
	txnRepo     repository.TransactionRepository
	log         zerolog.Logger
}

func NewCheckoutService(
	db *gorm.DB,
	cfg config.Checkout,
	gateway client.GatewayClient,
	notifier NotificationDispatcher,
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	couponRepo repository.CouponRepository,
	orderRepo repository.OrderRepository,
	txnRepo repository.TransactionRepository,
	log zerolog.Logger,
) CheckoutService {
	return &checkoutServiceImpl{
		db:          db,
		cfg:         cfg,
		gateway:     gateway,
		notifier:    notifier,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		couponRepo:  couponRepo,
		orderRepo:   orderRepo,
		txnRepo:     txnRepo,
		log:         log,
	}
}

func validateCheckout(in CheckoutInput) error {
	switch {
	case strings.TrimSpace(in.CartID) == "":
		return &ValidationError{Field: "cart_id", Message: "is required"}
	case !in.PaymentMethod.Valid():
		return &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unsupported payment method %q", in.PaymentMethod)}
	case strings.TrimSpace(in.Shipping.RecipientName) == "":
		return &ValidationError{Field: "shipping.recipient_name", Message: "is required"}
	case strings.TrimSpace(in.Shipping.Phone) == "":
		return &ValidationError{Field: "shipping.phone", Message: "is required"}
	case strings.TrimSpace(in.Shipping.AddressLine) == "":
		return &ValidationError{Field: "shipping.address_line", Message: "is required"}
	}
	return nil
}

func (s *checkoutServiceImpl) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if err := validateCheckout(in); err != nil {
		return nil, err
	}

	now := time.Now()
	reserve := in.PaymentMethod == model.PaymentMethodCOD || s.cfg.StockReservation != config.ReserveOnConfirm
	autoConfirm := in.PaymentMethod == model.PaymentMethodCOD && s.cfg.CODAutoConfirm

	var order *model.Order
	var txn *model.PaymentTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.cartRepo.FindByID(ctx, tx, in.CartID)
		if err != nil {
			return notFound(err, "cart %s", in.CartID)
		}
		if len(cart.Items) == 0 {
			return ErrEmptyCart
		}

		var total int64
		items := make([]model.OrderItem, 0, len(cart.Items))
		for _, ci := range cart.Items {
			if ci.Variant == nil {
				return fmt.Errorf("variant %d: %w", ci.VariantID, ErrNotFound)
			}
			productName := ""
			if ci.Variant.Product != nil {
				productName = ci.Variant.Product.Name
			}
			total += ci.Variant.Price * ci.Quantity
			items = append(items, model.OrderItem{
				VariantID:   ci.VariantID,
				SKU:         ci.Variant.SKU,
				ProductName: productName,
				VariantName: ci.Variant.Name,
				Quantity:    ci.Quantity,
				UnitPrice:   ci.Variant.Price,
			})
		}

		discount, err := s.applyCoupon(ctx, tx, in.CouponCode, total, now)
		if err != nil {
			return err
		}

		shippingFee := s.cfg.ShippingFee
		if s.cfg.FreeShippingThreshold > 0 && total >= s.cfg.FreeShippingThreshold {
			shippingFee = 0
		}

		if in.PaymentMethod == model.PaymentMethodGateway && model.ComputeFinalAmount(total, discount, shippingFee) <= 0 {
			return &ValidationError{Field: "payment_method", Message: "nothing to charge through the payment gateway"}
		}

		if reserve {
			if err := reserveStock(ctx, tx, s.productRepo, items); err != nil {
				return err
			}
		} else {
			for _, ci := range cart.Items {
				if ci.Variant.Stock < ci.Quantity {
					return &InsufficientStockError{
						VariantID: ci.VariantID,
						SKU:       ci.Variant.SKU,
						Requested: ci.Quantity,
						Available: ci.Variant.Stock,
					}
				}
			}
		}

		order = &model.Order{
			Code:           newOrderCode(now),
			UserID:         in.UserID,
			Email:          strings.TrimSpace(in.Email),
			TotalAmount:    total,
			DiscountAmount: discount,
			ShippingFee:    shippingFee,
			Currency:       s.cfg.Currency,
			CouponCode:     strings.ToUpper(strings.TrimSpace(in.CouponCode)),
			PaymentMethod:  in.PaymentMethod,
			Status:         model.OrderPending,
			PaymentStatus:  model.PaymentUnpaid,
			StockReserved:  reserve,
			Items:          items,
			Shipping: &model.Shipping{
				RecipientName: strings.TrimSpace(in.Shipping.RecipientName),
				Phone:         strings.TrimSpace(in.Shipping.Phone),
				AddressLine:   strings.TrimSpace(in.Shipping.AddressLine),
				Ward:          in.Shipping.Ward,
				District:      in.Shipping.District,
				City:          in.Shipping.City,
				Status:        model.ShippingPending,
			},
		}
		if autoConfirm {
			order.Status = model.OrderConfirmed
			order.PaymentStatus = model.PaymentPaid
		}

		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order: %w", err)
		}

		switch {
		case in.PaymentMethod == model.PaymentMethodGateway:
			txn = &model.PaymentTransaction{
				OrderID:       order.ID,
				Code:          newTransactionCode(),
				Kind:          model.TxnKindPayment,
				Amount:        order.FinalAmount,
				Status:        model.TxnPending,
				PaymentMethod: model.PaymentMethodGateway,
				BankCode:      in.BankCode,
			}
		case autoConfirm:
			txn = &model.PaymentTransaction{
				OrderID:       order.ID,
				Code:          newTransactionCode(),
				Kind:          model.TxnKindPayment,
				Amount:        order.FinalAmount,
				Status:        model.TxnSuccess,
				PaymentMethod: model.PaymentMethodCOD,
				PaidAt:        &now,
			}
		}
		if txn != nil {
			if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
				return fmt.Errorf("store payment transaction: %w", err)
			}
		}

		if err := s.cartRepo.Clear(ctx, tx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_code", order.Code).
		Str("payment_method", string(order.PaymentMethod)).
		Int64("final_amount", order.FinalAmount).
		Bool("stock_reserved", order.StockReserved).
		Msg("order created")

	result := &CheckoutResult{Order: order}
	if order.PaymentMethod == model.PaymentMethodGateway {
		redirect, err := s.redirectFor(order, txn, in.ClientIP)
		if err != nil {
			return nil, err
		}
		result.RedirectURL = redirect
	}
	if autoConfirm {
		s.notifier.NotifyConfirmed(ctx, order)
	}

	return result, nil
}

func (s *checkoutServiceImpl) applyCoupon(ctx context.Context, tx *gorm.DB, code string, total int64, now time.Time) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, nil
	}

	coupon, err := s.couponRepo.FindByCode(ctx, tx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &ValidationError{Field: "coupon_code", Message: "unknown coupon"}
	}
	if err != nil {
		return 0, fmt.Errorf("load coupon: %w", err)
	}

	switch {
	case !coupon.Active:
		return 0, &ValidationError{Field: "coupon_code", Message: "coupon is not active"}
	case coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt):
		return 0, &ValidationError{Field: "coupon_code", Message: "coupon has expired"}
	case total < coupon.MinOrderAmount:
		return 0, &ValidationError{Field: "coupon_code", Message: fmt.Sprintf("order total must be at least %d", coupon.MinOrderAmount)}
	}

	ok, err := s.couponRepo.Redeem(ctx, tx, code)
	if err != nil {
		return 0, fmt.Errorf("redeem coupon: %w", err)
	}
	if !ok {
		return 0, &ValidationError{Field: "coupon_code", Message: "coupon usage limit reached"}
	}

	return coupon.Discount(total), nil
}

func (s *checkoutServiceImpl) CreatePaymentAttempt(ctx context.Context, orderCode, clientIP string) (*CheckoutResult, error) {
	var order *model.Order
	var txn *model.PaymentTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orderRepo.FindByCodeForUpdate(ctx, tx, orderCode)
		if err != nil {
			return notFound(err, "order %s", orderCode)
		}

		switch {
		case order.PaymentMethod != model.PaymentMethodGateway:
			return &ValidationError{Field: "payment_method", Message: "order is not paid through the gateway"}
		case order.PaymentStatus != model.PaymentUnpaid:
			return fmt.Errorf("%w: order %s payment is %s", ErrInvalidTransition, order.Code, order.PaymentStatus)
		case order.Status != model.OrderPending && order.Status != model.OrderConfirmed:
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.Code, order.Status)
		case order.NeedsReview:
			return fmt.Errorf("%w: order %s is under review", ErrInvalidTransition, order.Code)
		}

		if _, err := s.txnRepo.ExpirePendingForOrder(ctx, tx, order.ID); err != nil {
			return fmt.Errorf("expire previous attempts: %w", err)
		}

		txn = &model.PaymentTransaction{
			OrderID:       order.ID,
			Code:          newTransactionCode(),
			Kind:          model.TxnKindPayment,
			Amount:        order.FinalAmount,
			Status:        model.TxnPending,
			PaymentMethod: model.PaymentMethodGateway,
		}
		if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
			return fmt.Errorf("store payment transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	redirect, err := s.redirectFor(order, txn, clientIP)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_code", order.Code).Str("txn_code", txn.Code).Msg("payment attempt created")

	return &CheckoutResult{Order: order, RedirectURL: redirect}, nil
}

func (s *checkoutServiceImpl) redirectFor(order *model.Order, txn *model.PaymentTransaction, clientIP string) (string, error) {
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	url, err := s.gateway.BuildRedirect(client.RedirectRequest{
		TxnRef:    txn.Code,
		Amount:    txn.Amount,
		OrderInfo: "Thanh toan don hang " + order.Code,
		IPAddr:    clientIP,
		CreatedAt: txn.CreatedAt,
		ExpireAt:  txn.CreatedAt.Add(s.cfg.PendingTTL),
		BankCode:  txn.BankCode,
	})
	if err != nil {
		return "", fmt.Errorf("build gateway redirect for %s: %w", order.Code, err)
	}
	return url, nil
}
