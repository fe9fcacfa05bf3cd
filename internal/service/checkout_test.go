package service

import (
	"context"
	"errors"
	"net/url"
	"storefront/internal/config"
	"storefront/internal/model"
	"sync"
	"testing"
)

func TestCheckoutComputesFinalAmountAndRedirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCoupon(t, &model.Coupon{Code: "GIAM200K", Amount: 200_000, Active: true})

	in := checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: 2}), model.PaymentMethodGateway)
	in.CouponCode = "giam200k"
	res, err := f.checkout.Checkout(ctx, in)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	order := res.Order
	if order.TotalAmount != 2_500_000 || order.DiscountAmount != 200_000 || order.ShippingFee != 30_000 {
		t.Fatalf("unexpected amounts %+v", order)
	}
	if order.FinalAmount != 2_330_000 {
		t.Fatalf("expected final amount 2330000, got %d", order.FinalAmount)
	}
	if order.Status != model.OrderPending || order.PaymentStatus != model.PaymentUnpaid {
		t.Fatalf("expected pending/unpaid, got %s/%s", order.Status, order.PaymentStatus)
	}

	u, err := url.Parse(res.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if got := u.Query().Get("vnp_Amount"); got != "233000000" {
		t.Fatalf("expected vnp_Amount 233000000, got %s", got)
	}
	txn := f.pendingTxn(t, order)
	if u.Query().Get("vnp_TxnRef") != txn.Code || txn.Amount != 2_330_000 {
		t.Fatalf("redirect does not reference pending txn %+v", txn)
	}

	if got := f.stock(t, f.variant.ID); got != 8 {
		t.Fatalf("expected stock 8, got %d", got)
	}
	coupon, _ := f.coupons.FindByCode(ctx, nil, "GIAM200K")
	if coupon.UsedCount != 1 {
		t.Fatalf("expected coupon used once, got %d", coupon.UsedCount)
	}
	cart, _ := f.carts.FindByID(ctx, nil, in.CartID)
	if len(cart.Items) != 0 {
		t.Fatalf("cart not cleared: %d items", len(cart.Items))
	}

	stored := f.order(t, order.Code)
	if stored.FinalAmount != model.ComputeFinalAmount(stored.TotalAmount, stored.DiscountAmount, stored.ShippingFee) {
		t.Fatalf("stored final amount %d breaks the invariant", stored.FinalAmount)
	}
	if len(stored.Items) != 1 || stored.Items[0].LineTotal != 2_500_000 {
		t.Fatalf("unexpected items %+v", stored.Items)
	}
}

func TestCheckoutRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	cartID := f.cartWith(t, map[uint]int64{f.variant.ID: 1})

	tests := []struct {
		name   string
		mutate func(in *CheckoutInput)
		field  string
	}{
		{"missing cart", func(in *CheckoutInput) { in.CartID = "" }, "cart_id"},
		{"bad method", func(in *CheckoutInput) { in.PaymentMethod = "card" }, "payment_method"},
		{"missing recipient", func(in *CheckoutInput) { in.Shipping.RecipientName = " " }, "shipping.recipient_name"},
		{"missing phone", func(in *CheckoutInput) { in.Shipping.Phone = "" }, "shipping.phone"},
		{"missing address", func(in *CheckoutInput) { in.Shipping.AddressLine = "" }, "shipping.address_line"},
		{"unknown coupon", func(in *CheckoutInput) { in.CouponCode = "NOPE" }, "coupon_code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := checkoutInput(cartID, model.PaymentMethodGateway)
			tt.mutate(&in)
			_, err := f.checkout.Checkout(context.Background(), in)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}

	if got := f.stock(t, f.variant.ID); got != 10 {
		t.Fatalf("rejected checkouts changed stock to %d", got)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.Checkout(context.Background(), checkoutInput(f.cartWith(t, nil), model.PaymentMethodGateway))
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCheckoutUnknownCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.Checkout(context.Background(), checkoutInput("missing-cart", model.PaymentMethodGateway))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckoutInsufficientStockIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scarce := f.seedVariant(t, "QUAN", "QUAN-M", 500_000, 1)
	f.seedCoupon(t, &model.Coupon{Code: "SALE", Percent: 10, Active: true})

	in := checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: 2, scarce.ID: 3}), model.PaymentMethodGateway)
	in.CouponCode = "SALE"
	_, err := f.checkout.Checkout(ctx, in)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var se *InsufficientStockError
	if !errors.As(err, &se) || se.SKU != "QUAN-M" || se.Requested != 3 || se.Available != 1 {
		t.Fatalf("unexpected stock error %+v", se)
	}

	if got := f.stock(t, f.variant.ID); got != 10 {
		t.Fatalf("expected untouched stock 10, got %d", got)
	}
	if got := f.stock(t, scarce.ID); got != 1 {
		t.Fatalf("expected untouched stock 1, got %d", got)
	}
	orders, total, err := f.orders.List(ctx, orderFilterAll())
	if err != nil || total != 0 || len(orders) != 0 {
		t.Fatalf("expected no orders, got %d (err %v)", total, err)
	}
	coupon, _ := f.coupons.FindByCode(ctx, nil, "SALE")
	if coupon.UsedCount != 0 {
		t.Fatalf("coupon usage leaked: %d", coupon.UsedCount)
	}
	cart, _ := f.carts.FindByID(ctx, nil, in.CartID)
	if len(cart.Items) != 2 {
		t.Fatalf("cart should be kept on failure, has %d items", len(cart.Items))
	}
}

// The SQLite fixture runs on a single connection, so these checkouts are
// serialized; the conditional decrement itself is covered in the repository
// package.
func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	limited := f.seedVariant(t, "LIMITED", "LIMITED-1", 100_000, 3)

	const buyers = 8
	carts := make([]string, buyers)
	for i := range carts {
		carts[i] = f.cartWith(t, map[uint]int64{limited.ID: 1})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, outOfStock := 0, 0
	for _, cartID := range carts {
		wg.Add(1)
		go func(cartID string) {
			defer wg.Done()
			_, err := f.checkout.Checkout(context.Background(), checkoutInput(cartID, model.PaymentMethodCOD))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientStock):
				outOfStock++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(cartID)
	}
	wg.Wait()

	if succeeded != 3 || outOfStock != buyers-3 {
		t.Fatalf("expected 3 successes and %d stock failures, got %d/%d", buyers-3, succeeded, outOfStock)
	}
	if got := f.stock(t, limited.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestCheckoutFreeShippingThreshold(t *testing.T) {
	f := newFixture(t, withCheckout(func(cfg *config.Checkout) { cfg.FreeShippingThreshold = 2_000_000 }))

	res, err := f.checkout.Checkout(context.Background(), checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: 2}), model.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order.ShippingFee != 0 || res.Order.FinalAmount != 2_500_000 {
		t.Fatalf("expected free shipping, got fee %d final %d", res.Order.ShippingFee, res.Order.FinalAmount)
	}
	if res.RedirectURL != "" {
		t.Fatal("cod order must not get a gateway redirect")
	}
}

func TestCheckoutCODAutoConfirm(t *testing.T) {
	f := newFixture(t, withCheckout(func(cfg *config.Checkout) { cfg.CODAutoConfirm = true }))

	res, err := f.checkout.Checkout(context.Background(), checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: 1}), model.PaymentMethodCOD))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order.Status != model.OrderConfirmed || res.Order.PaymentStatus != model.PaymentPaid {
		t.Fatalf("expected confirmed/paid, got %s/%s", res.Order.Status, res.Order.PaymentStatus)
	}
	if f.publisher.count() != 1 {
		t.Fatalf("expected one confirmation, got %d", f.publisher.count())
	}
	if got := f.stock(t, f.variant.ID); got != 9 {
		t.Fatalf("cod orders reserve at checkout, stock %d", got)
	}
}

func TestCheckoutReserveOnConfirm(t *testing.T) {
	f := newFixture(t, withCheckout(func(cfg *config.Checkout) { cfg.StockReservation = config.ReserveOnConfirm }))
	ctx := context.Background()

	order := f.gatewayOrder(t, 2)
	if order.StockReserved {
		t.Fatal("gateway order reserved stock under on_confirm")
	}
	if got := f.stock(t, f.variant.ID); got != 10 {
		t.Fatalf("stock changed at checkout: %d", got)
	}

	txn := f.pendingTxn(t, order)
	if _, err := f.recon.HandleGatewayCallback(ctx, SourceIPN, gatewayCallback(txn.Code, order.FinalAmount*100, "00")); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if got := f.stock(t, f.variant.ID); got != 8 {
		t.Fatalf("expected stock 8 after payment, got %d", got)
	}
	if stored := f.order(t, order.Code); !stored.StockReserved || stored.NeedsReview {
		t.Fatalf("expected reserved and not flagged, got %+v", stored)
	}
}

func TestCheckoutReserveOnConfirmShortfallFlagsReview(t *testing.T) {
	f := newFixture(t, withCheckout(func(cfg *config.Checkout) { cfg.StockReservation = config.ReserveOnConfirm }))
	ctx := context.Background()

	first := f.gatewayOrder(t, 6)
	second := f.gatewayOrder(t, 6)

	for _, o := range []*model.Order{first, second} {
		txn := f.pendingTxn(t, o)
		if _, err := f.recon.HandleGatewayCallback(ctx, SourceIPN, gatewayCallback(txn.Code, o.FinalAmount*100, "00")); err != nil {
			t.Fatalf("callback for %s: %v", o.Code, err)
		}
	}

	late := f.order(t, second.Code)
	if late.PaymentStatus != model.PaymentPaid {
		t.Fatalf("payment must stand, got %s", late.PaymentStatus)
	}
	if !late.NeedsReview || late.StockReserved {
		t.Fatalf("expected shortfall flagged for review, got %+v", late)
	}
	if got := f.stock(t, f.variant.ID); got != 4 {
		t.Fatalf("expected stock 4, got %d", got)
	}
}

func TestCreatePaymentAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.gatewayOrder(t, 1)
	first := f.pendingTxn(t, order)

	res, err := f.checkout.CreatePaymentAttempt(ctx, order.Code, "10.0.0.1")
	if err != nil {
		t.Fatalf("CreatePaymentAttempt: %v", err)
	}
	second := f.pendingTxn(t, order)
	if second.Code == first.Code {
		t.Fatal("expected a new transaction code")
	}
	u, _ := url.Parse(res.RedirectURL)
	if u.Query().Get("vnp_TxnRef") != second.Code {
		t.Fatalf("redirect references %s, want %s", u.Query().Get("vnp_TxnRef"), second.Code)
	}
	old, _ := f.txns.FindByCode(ctx, nil, first.Code)
	if old.Status != model.TxnExpired {
		t.Fatalf("previous attempt should be expired, got %s", old.Status)
	}

	if _, err := f.recon.HandleGatewayCallback(ctx, SourceIPN, gatewayCallback(second.Code, order.FinalAmount*100, "00")); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if _, err := f.checkout.CreatePaymentAttempt(ctx, order.Code, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for paid order, got %v", err)
	}
}
