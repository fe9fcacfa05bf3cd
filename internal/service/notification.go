package service

import (
	"context"
	"encoding/json"
	"storefront/internal/model"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const EventOrderConfirmed = "order.confirmed"

// Publisher is satisfied by *kafka.Writer.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// LogPublisher writes messages to the log when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		p.log.Info().
			Str("key", string(msg.Key)).
			RawJSON("value", msg.Value).
			Msg("event published")
	}
	return nil
}

type OrderConfirmedItem struct {
	SKU         string `json:"sku"`
	ProductName string `json:"product_name"`
	VariantName string `json:"variant_name"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

type OrderConfirmedEvent struct {
	Type           string               `json:"type"`
	OrderCode      string               `json:"order_code"`
	Email          string               `json:"email"`
	PaymentMethod  model.PaymentMethod  `json:"payment_method"`
	PaymentStatus  model.PaymentStatus  `json:"payment_status"`
	TotalAmount    int64                `json:"total_amount"`
	DiscountAmount int64                `json:"discount_amount"`
	ShippingFee    int64                `json:"shipping_fee"`
	FinalAmount    int64                `json:"final_amount"`
	Currency       string               `json:"currency"`
	DisplayAmount  string               `json:"display_amount"`
	Items          []OrderConfirmedItem `json:"items"`
	ConfirmedAt    time.Time            `json:"confirmed_at"`
}

type NotificationDispatcher interface {
	NotifyConfirmed(ctx context.Context, order *model.Order)
}

type notificationDispatcherImpl struct {
	publisher Publisher
	log       zerolog.Logger
}

func NewNotificationDispatcher(publisher Publisher, log zerolog.Logger) NotificationDispatcher {
	return &notificationDispatcherImpl{
		publisher: publisher,
		log:       log,
	}
}

// NotifyConfirmed publishes an order.confirmed event. Failures are logged;
// redelivery is the consumer side's concern.
func (d *notificationDispatcherImpl) NotifyConfirmed(ctx context.Context, order *model.Order) {
	event := OrderConfirmedEvent{
		Type:           EventOrderConfirmed,
		OrderCode:      order.Code,
		Email:          order.Email,
		PaymentMethod:  order.PaymentMethod,
		PaymentStatus:  order.PaymentStatus,
		TotalAmount:    order.TotalAmount,
		DiscountAmount: order.DiscountAmount,
		ShippingFee:    order.ShippingFee,
		FinalAmount:    order.FinalAmount,
		Currency:       order.Currency,
		DisplayAmount:  FormatAmount(order.FinalAmount, order.Currency),
		Items:          make([]OrderConfirmedItem, 0, len(order.Items)),
		ConfirmedAt:    time.Now().UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderConfirmedItem{
			SKU:         item.SKU,
			ProductName: item.ProductName,
			VariantName: item.VariantName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}

	value, err := json.Marshal(event)
	if err != nil {
		d.log.Error().Err(err).Str("order_code", order.Code).Msg("marshal order confirmed event")
		return
	}

	err = d.publisher.WriteMessages(ctx, kafka.Message{
		Key:   []byte(EventOrderConfirmed + "." + order.Code),
		Value: value,
		Time:  event.ConfirmedAt,
	})
	if err != nil {
		d.log.Error().Err(err).Str("order_code", order.Code).Msg("publish order confirmed event")
		return
	}

	d.log.Info().Str("order_code", order.Code).Str("amount", event.DisplayAmount).Msg("order confirmation dispatched")
}

// FormatAmount renders a display-unit amount with dot thousands separators,
// e.g. 2330000 VND -> "2.330.000 VND".
func FormatAmount(amount int64, currency string) string {
	digits := decimal.NewFromInt(amount).Abs().StringFixed(0)

	out := make([]byte, 0, len(digits)+len(digits)/3+1)
	if amount < 0 {
		out = append(out, '-')
	}
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, digits[i])
	}
	if currency == "" {
		return string(out)
	}
	return string(out) + " " + currency
}
