package service

import (
	"context"
	"fmt"
	"net/url"
	"storefront/internal/client"
	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/repository"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

const testHashSecret = "TESTSECRET0123456789"

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (p *recordingPublisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fixture struct {
	db        *gorm.DB
	cfg       config.Checkout
	gateway   client.GatewayClient
	publisher *recordingPublisher

	products repository.ProductRepository
	carts    repository.CartRepository
	coupons  repository.CouponRepository
	orders   repository.OrderRepository
	txns     repository.TransactionRepository
	events   repository.CallbackEventRepository

	checkout CheckoutService
	recon    ReconciliationService
	orderSvc OrderService
	cartSvc  CartService
	catalog  CatalogService
	sweeper  Sweeper

	variant *model.Variant
}

type fixtureOption func(cfg *config.Checkout, vnp *config.VNPay)

func withCheckout(fn func(cfg *config.Checkout)) fixtureOption {
	return func(cfg *config.Checkout, _ *config.VNPay) { fn(cfg) }
}

func withGatewayAPI(apiURL string) fixtureOption {
	return func(_ *config.Checkout, vnp *config.VNPay) { vnp.APIURL = apiURL }
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := client.InitDatabase(config.Database{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	if err := client.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := config.Checkout{
		Currency:         "VND",
		ShippingFee:      30_000,
		StockReservation: config.ReserveOnCreate,
		PendingTTL:       15 * time.Minute,
	}
	vnp := config.VNPay{
		PayURL:          "https://pay.example.test/vpcpay.html",
		APIURL:          "http://127.0.0.1:0/unused",
		TmnCode:         "TESTTMN1",
		HashSecret:      testHashSecret,
		ReturnURL:       "http://localhost:8080/api/payments/vnpay/return",
		Version:         "2.1.0",
		Locale:          "vn",
		CurrCode:        "VND",
		OrderType:       "other",
		TimeZone:        "Asia/Ho_Chi_Minh",
		MinorUnitFactor: 100,
	}
	for _, opt := range opts {
		opt(&cfg, &vnp)
	}

	gateway, err := client.NewGatewayClient(&vnp)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	db := newTestDB(t)
	log := zerolog.Nop()
	pub := &recordingPublisher{}
	notifier := NewNotificationDispatcher(pub, log)

	f := &fixture{
		db:        db,
		cfg:       cfg,
		gateway:   gateway,
		publisher: pub,
		products:  repository.NewProductRepository(db),
		carts:     repository.NewCartRepository(db),
		coupons:   repository.NewCouponRepository(db),
		orders:    repository.NewOrderRepository(db),
		txns:      repository.NewTransactionRepository(db),
		events:    repository.NewCallbackEventRepository(db),
	}
	f.checkout = NewCheckoutService(db, cfg, gateway, notifier, f.carts, f.products, f.coupons, f.orders, f.txns, log)
	f.recon = NewReconciliationService(db, gateway, notifier, f.orders, f.txns, f.products, f.events, log)
	f.orderSvc = NewOrderService(db, notifier, f.orders, f.txns, f.products, f.coupons, log)
	f.cartSvc = NewCartService(f.carts, f.products)
	f.catalog = NewCatalogService(db, f.products, f.coupons)
	f.sweeper = NewSweeper(db, cfg.PendingTTL, gateway, f.recon, f.orders, f.txns, f.products, f.coupons, log)

	f.variant = f.seedVariant(t, "AO-THUN", "AO-THUN-L", 1_250_000, 10)
	return f
}

func (f *fixture) seedVariant(t *testing.T, productSKU, variantSKU string, price, stock int64) *model.Variant {
	t.Helper()
	p := &model.Product{
		SKU:      productSKU,
		Name:     "Ao thun " + productSKU,
		Variants: []model.Variant{{SKU: variantSKU, Name: "L", Price: price, Stock: stock}},
	}
	if err := f.products.Upsert(context.Background(), nil, p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	for i := range p.Variants {
		if p.Variants[i].SKU == variantSKU {
			return &p.Variants[i]
		}
	}
	t.Fatalf("variant %s not seeded", variantSKU)
	return nil
}

func (f *fixture) seedCoupon(t *testing.T, coupon *model.Coupon) {
	t.Helper()
	if err := f.coupons.Upsert(context.Background(), nil, coupon); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

func (f *fixture) cartWith(t *testing.T, lines map[uint]int64) string {
	t.Helper()
	ctx := context.Background()
	cart, err := f.cartSvc.Create(ctx, nil)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	for variantID, qty := range lines {
		if _, err := f.cartSvc.AddItem(ctx, cart.ID, variantID, qty); err != nil {
			t.Fatalf("add item: %v", err)
		}
	}
	return cart.ID
}

func (f *fixture) stock(t *testing.T, variantID uint) int64 {
	t.Helper()
	v, err := f.products.FindVariant(context.Background(), nil, variantID)
	if err != nil {
		t.Fatalf("find variant: %v", err)
	}
	return v.Stock
}

func (f *fixture) order(t *testing.T, code string) *model.Order {
	t.Helper()
	o, err := f.orders.FindByCode(context.Background(), nil, code)
	if err != nil {
		t.Fatalf("find order %s: %v", code, err)
	}
	return o
}

func (f *fixture) pendingTxn(t *testing.T, order *model.Order) *model.PaymentTransaction {
	t.Helper()
	txn, err := f.txns.FindPendingForOrder(context.Background(), nil, order.ID, model.TxnKindPayment)
	if err != nil {
		t.Fatalf("pending txn for %s: %v", order.Code, err)
	}
	return txn
}

func checkoutInput(cartID string, method model.PaymentMethod) CheckoutInput {
	return CheckoutInput{
		CartID: cartID,
		Email:  "buyer@example.com",
		Shipping: ShippingInput{
			RecipientName: "Nguyen Van A",
			Phone:         "0900000000",
			AddressLine:   "1 Le Loi",
			District:      "Quan 1",
			City:          "Ho Chi Minh",
		},
		PaymentMethod: method,
		ClientIP:      "127.0.0.1",
	}
}

func (f *fixture) gatewayOrder(t *testing.T, qty int64) *model.Order {
	t.Helper()
	res, err := f.checkout.Checkout(context.Background(), checkoutInput(f.cartWith(t, map[uint]int64{f.variant.ID: qty}), model.PaymentMethodGateway))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return res.Order
}

// gatewayCallback builds a correctly signed callback as the gateway would send it.
func gatewayCallback(txnCode string, minorAmount int64, responseCode string) url.Values {
	params := url.Values{}
	params.Set("vnp_TmnCode", "TESTTMN1")
	params.Set("vnp_TxnRef", txnCode)
	params.Set("vnp_Amount", strconv.FormatInt(minorAmount, 10))
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", responseCode)
	params.Set("vnp_TransactionNo", "14012345")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_PayDate", "20260301101500")
	params.Set("vnp_OrderInfo", "Thanh toan don hang")
	params.Set("vnp_SecureHash", client.SignGatewayParams(testHashSecret, params))
	return params
}

func orderFilterAll() repository.OrderFilter {
	return repository.OrderFilter{Limit: 100}
}
