package service

import (
	"context"
	"errors"
	"storefront/internal/model"
	"storefront/internal/repository"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestOrderFulfilmentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.gatewayOrder(t, 1)
	txn := f.pendingTxn(t, order)

	if _, err := f.orderSvc.Ship(ctx, order.Code, "GHN", "GHN123"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("shipping an unconfirmed order: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.recon.HandleGatewayCallback(ctx, SourceIPN, gatewayCallback(txn.Code, order.FinalAmount*100, "00")); err != nil {
		t.Fatalf("callback: %v", err)
	}

	if _, err := f.orderSvc.Ship(ctx, order.Code, "", "GHN123"); err == nil {
		t.Fatal("expected validation error for missing carrier")
	}
	shipped, err := f.orderSvc.Ship(ctx, order.Code, "GHN", "GHN123")
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if shipped.Status != model.OrderShipped || shipped.Shipping.Status != model.ShippingInTransit {
		t.Fatalf("expected shipped/in_transit, got %s/%s", shipped.Status, shipped.Shipping.Status)
	}

	delivered, err := f.orderSvc.UpdateShipping(ctx, order.Code, model.ShippingDelivered)
	if err != nil {
		t.Fatalf("UpdateShipping delivered: %v", err)
	}
	if delivered.Status != model.OrderDelivered {
		t.Fatalf("expected delivered order, got %s", delivered.Status)
	}

	evaluated, err := f.orderSvc.UpdateShipping(ctx, order.Code, model.ShippingEvaluated)
	if err != nil {
		t.Fatalf("UpdateShipping evaluated: %v", err)
	}
	if evaluated.Status != model.OrderCompleted {
		t.Fatalf("expected completed order, got %s", evaluated.Status)
	}

	stored := f.order(t, order.Code)
	if stored.Shipping.Carrier != "GHN" || stored.Shipping.TrackingNumber != "GHN123" || stored.Shipping.Status != model.ShippingEvaluated {
		t.Fatalf("unexpected shipping %+v", stored.Shipping)
	}

	if _, err := f.orderSvc.UpdateShipping(ctx, order.Code, model.ShippingInTransit); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *model.TransitionError
	_, err = f.orderSvc.UpdateShipping(ctx, order.Code, model.ShippingPending)
	if !errors.As(err, &te) || te.Dimension != "shipping" {
		t.Fatalf("expected shipping TransitionError, got %v", err)
	}
}

func TestCancelReleasesStockAndAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCoupon(t, &model.Coupon{Code: "ONCE", Amount: 10_000, UsageLimit: 1, Active: true})

	in := checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: 3}), model.PaymentMethodGateway)
	in.CouponCode = "ONCE"
	res, err := f.checkout.Checkout(ctx, in)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	txn := f.pendingTxn(t, res.Order)

	cancelled, err := f.orderSvc.Cancel(ctx, res.Order.Code, "changed mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != model.OrderCancelled || cancelled.StockReserved {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	if got := f.stock(t, f.variant.ID); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}
	expired, _ := f.txns.FindByCode(ctx, nil, txn.Code)
	if expired.Status != model.TxnExpired {
		t.Fatalf("expected expired attempt, got %s", expired.Status)
	}
	coupon, _ := f.coupons.FindByCode(ctx, nil, "ONCE")
	if coupon.UsedCount != 0 {
		t.Fatalf("coupon use not released: %d", coupon.UsedCount)
	}

	if _, err := f.orderSvc.Cancel(ctx, res.Order.Code, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelPaidOrderRequiresRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.gatewayOrder(t, 1)
	txn := f.pendingTxn(t, order)
	if _, err := f.recon.HandleGatewayCallback(ctx, SourceIPN, gatewayCallback(txn.Code, order.FinalAmount*100, "00")); err != nil {
		t.Fatalf("callback: %v", err)
	}

	if _, err := f.orderSvc.Cancel(ctx, order.Code, "oops"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConfirmCODOrderNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.checkout.Checkout(ctx, checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: 1}), model.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	confirmed, err := f.orderSvc.Confirm(ctx, res.Order.Code)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != model.OrderConfirmed || confirmed.PaymentStatus != model.PaymentUnpaid {
		t.Fatalf("expected confirmed/unpaid, got %s/%s", confirmed.Status, confirmed.PaymentStatus)
	}
	if f.publisher.count() != 1 {
		t.Fatalf("expected one notification, got %d", f.publisher.count())
	}

	gw := f.gatewayOrder(t, 1)
	if _, err := f.orderSvc.Confirm(ctx, gw.Code); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for gateway order, got %v", err)
	}
}

func TestResolveReviewAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.gatewayOrder(t, 1)
	txn := f.pendingTxn(t, order)
	f.gatewayOrder(t, 1)

	if _, err := f.recon.HandleGatewayCallback(ctx, SourceIPN, gatewayCallback(txn.Code, 100, "00")); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	flagged := true
	orders, total, err := f.orderSvc.List(ctx, repository.OrderFilter{NeedsReview: &flagged})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || orders[0].Code != order.Code {
		t.Fatalf("expected only %s flagged, got %d", order.Code, total)
	}

	resolved, err := f.orderSvc.ResolveReview(ctx, order.Code)
	if err != nil {
		t.Fatalf("ResolveReview: %v", err)
	}
	if resolved.NeedsReview || resolved.ReviewReason != "" {
		t.Fatalf("review not cleared: %+v", resolved)
	}

	var ve *ValidationError
	if _, err := f.orderSvc.ResolveReview(ctx, order.Code); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, _, err := f.orderSvc.List(ctx, repository.OrderFilter{Status: "lost"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unknown status, got %v", err)
	}
	if _, err := f.orderSvc.Get(ctx, "ORD000000XXXXXX"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFlagForReviewKeepsReasonValidUTF8(t *testing.T) {
	order := &model.Order{}
	flagForReview(order, strings.Repeat("a", 249))
	flagForReview(order, "thiếu hàng sau thanh toán")

	if len(order.ReviewReason) > 255 {
		t.Fatalf("reason is %d bytes", len(order.ReviewReason))
	}
	if !utf8.ValidString(order.ReviewReason) {
		t.Fatalf("reason split a rune: %q", order.ReviewReason)
	}
	if got := truncate("đơn", 1); got != "" {
		t.Fatalf("expected the partial rune dropped, got %q", got)
	}
	if got := truncate("đơn", 3); got != "đ" {
		t.Fatalf("expected %q, got %q", "đ", got)
	}
}
