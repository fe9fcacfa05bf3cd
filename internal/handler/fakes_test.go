package handler

import (
	"context"
	"fmt"
	"net/url"
	"storefront/internal/client"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/service"
	"sync"
)

type fakeReconciliation struct {
	result *service.ReconcileResult
	err    error

	mu      sync.Mutex
	sources []service.CallbackSource
	params  []url.Values
}

func (f *fakeReconciliation) HandleGatewayCallback(ctx context.Context, source service.CallbackSource, params url.Values) (*service.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	f.params = append(f.params, params)
	return f.result, f.err
}

func (f *fakeReconciliation) ApplyQueryResult(ctx context.Context, res *client.QueryResult) (*service.ReconcileResult, error) {
	return f.result, f.err
}

func (f *fakeReconciliation) ConfirmCODDelivery(ctx context.Context, orderCode string) (*model.Order, error) {
	return &model.Order{Code: orderCode}, f.err
}

func (f *fakeReconciliation) RequestRefund(ctx context.Context, orderCode, reason string) (*model.Order, error) {
	return &model.Order{Code: orderCode}, f.err
}

func (f *fakeReconciliation) CompleteRefund(ctx context.Context, orderCode string) (*model.Order, error) {
	return &model.Order{Code: orderCode}, f.err
}

type fakeCheckout struct {
	err error

	mu     sync.Mutex
	calls  int
	inputs []service.CheckoutInput
}

func (f *fakeCheckout) Checkout(ctx context.Context, in service.CheckoutInput) (*service.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &service.CheckoutResult{
		Order: &model.Order{
			ID:            uint(f.calls),
			Code:          fmt.Sprintf("ORD261019%06d", f.calls),
			FinalAmount:   2_330_000,
			Currency:      "VND",
			Status:        model.OrderPending,
			PaymentStatus: model.PaymentUnpaid,
		},
		RedirectURL: "https://pay.example.test/vpcpay.html?vnp_TxnRef=X",
	}, nil
}

func (f *fakeCheckout) CreatePaymentAttempt(ctx context.Context, orderCode, clientIP string) (*service.CheckoutResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.CheckoutResult{
		Order:       &model.Order{Code: orderCode, Status: model.OrderPending, PaymentStatus: model.PaymentUnpaid},
		RedirectURL: "https://pay.example.test/vpcpay.html?vnp_TxnRef=Y",
	}, nil
}

type fakeOrders struct {
	err        error
	lastFilter repository.OrderFilter
}

func (f *fakeOrders) Get(ctx context.Context, code string) (*model.Order, error) {
	return &model.Order{Code: code}, f.err
}

func (f *fakeOrders) List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	return []*model.Order{{Code: "ORD1"}}, 1, nil
}

func (f *fakeOrders) Confirm(ctx context.Context, code string) (*model.Order, error) {
	return &model.Order{Code: code, Status: model.OrderConfirmed}, f.err
}

func (f *fakeOrders) Ship(ctx context.Context, code, carrier, trackingNumber string) (*model.Order, error) {
	return &model.Order{Code: code, Status: model.OrderShipped}, f.err
}

func (f *fakeOrders) UpdateShipping(ctx context.Context, code string, status model.ShippingStatus) (*model.Order, error) {
	return &model.Order{Code: code}, f.err
}

func (f *fakeOrders) Cancel(ctx context.Context, code, reason string) (*model.Order, error) {
	return &model.Order{Code: code, Status: model.OrderCancelled}, f.err
}

func (f *fakeOrders) ResolveReview(ctx context.Context, code string) (*model.Order, error) {
	return &model.Order{Code: code}, f.err
}
