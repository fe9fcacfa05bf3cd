package model

import "fmt"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderReturned  OrderStatus = "returned"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCompleted, OrderCancelled},
	OrderConfirmed: {OrderShipped, OrderCompleted, OrderCancelled},
	OrderShipped:   {OrderDelivered, OrderCompleted, OrderCancelled, OrderReturned},
	OrderDelivered: {OrderCompleted, OrderReturned},
	OrderCompleted: {OrderReturned},
}

type PaymentStatus string

const (
	PaymentUnpaid           PaymentStatus = "unpaid"
	PaymentPaid             PaymentStatus = "paid"
	PaymentRefundProcessing PaymentStatus = "refund_processing"
	PaymentRefunded         PaymentStatus = "refunded"
	PaymentFailed           PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid:           {PaymentPaid, PaymentFailed},
	PaymentPaid:             {PaymentRefundProcessing},
	PaymentRefundProcessing: {PaymentRefunded},
}

type ShippingStatus string

const (
	ShippingNone      ShippingStatus = "none"
	ShippingPending   ShippingStatus = "pending"
	ShippingInTransit ShippingStatus = "in_transit"
	ShippingDelivered ShippingStatus = "delivered"
	ShippingFailed    ShippingStatus = "failed"
	ShippingReturned  ShippingStatus = "returned"
	ShippingEvaluated ShippingStatus = "evaluated"
)

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingPending:   {ShippingInTransit, ShippingFailed, ShippingDelivered, ShippingNone},
	ShippingInTransit: {ShippingDelivered, ShippingFailed},
	ShippingFailed:    {ShippingInTransit, ShippingReturned},
	ShippingDelivered: {ShippingEvaluated, ShippingReturned},
}

type TransactionStatus string

const (
	TxnPending TransactionStatus = "pending"
	TxnSuccess TransactionStatus = "success"
	TxnFailed  TransactionStatus = "failed"
	TxnExpired TransactionStatus = "expired"
)

// IsTerminal reports whether the status can no longer change.
func (s TransactionStatus) IsTerminal() bool {
	return s == TxnSuccess || s == TxnFailed || s == TxnExpired
}

type TransactionKind string

const (
	TxnKindPayment TransactionKind = "payment"
	TxnKindRefund  TransactionKind = "refund"
)

type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodGateway PaymentMethod = "gateway"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodGateway
}

// TransitionError is returned when a status move is not in the transition table.
type TransitionError struct {
	Dimension string
	From, To  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Dimension, e.From, e.To)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderShipped, OrderDelivered, OrderCompleted, OrderCancelled, OrderReturned:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return contains(orderTransitions[s], next)
}

func (s OrderStatus) TransitionTo(next OrderStatus) (OrderStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, &TransitionError{Dimension: "order", From: string(s), To: string(next)}
	}
	return next, nil
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentRefundProcessing, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return contains(paymentTransitions[s], next)
}

func (s PaymentStatus) TransitionTo(next PaymentStatus) (PaymentStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, &TransitionError{Dimension: "payment", From: string(s), To: string(next)}
	}
	return next, nil
}

func (s ShippingStatus) Valid() bool {
	switch s {
	case ShippingNone, ShippingPending, ShippingInTransit, ShippingDelivered, ShippingFailed, ShippingReturned, ShippingEvaluated:
		return true
	}
	return false
}

func (s ShippingStatus) CanTransitionTo(next ShippingStatus) bool {
	return contains(shippingTransitions[s], next)
}

func (s ShippingStatus) TransitionTo(next ShippingStatus) (ShippingStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, &TransitionError{Dimension: "shipping", From: string(s), To: string(next)}
	}
	return next, nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
