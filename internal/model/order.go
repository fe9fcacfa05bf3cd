package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNegativeFinalAmount = errors.New("final amount must not be negative")
	ErrImmutableLineItem   = errors.New("order line items are immutable")
)

type Order struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Code   string `gorm:"size:32;uniqueIndex;not null" json:"code"`
	UserID *uint  `gorm:"index" json:"user_id,omitempty"` // nil for guest checkout
	Email  string `gorm:"size:255" json:"email"`

	// amounts are in the store currency's display unit
	TotalAmount    int64  `gorm:"not null" json:"total_amount"`
	DiscountAmount int64  `gorm:"not null;default:0" json:"discount_amount"`
	ShippingFee    int64  `gorm:"not null;default:0" json:"shipping_fee"`
	FinalAmount    int64  `gorm:"not null" json:"final_amount"`
	Currency       string `gorm:"size:8;not null" json:"currency"`
	CouponCode     string `gorm:"size:64" json:"coupon_code,omitempty"`

	PaymentMethod PaymentMethod `gorm:"size:16;not null" json:"payment_method"`
	Status        OrderStatus   `gorm:"size:32;index;not null" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:32;index;not null" json:"payment_status"`
	StockReserved bool          `gorm:"not null;default:false" json:"stock_reserved"`

	NeedsReview  bool   `gorm:"index;not null;default:false" json:"needs_review"`
	ReviewReason string `gorm:"size:255" json:"review_reason,omitempty"`

	Version   int64          `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Items        []OrderItem          `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Shipping     *Shipping            `gorm:"foreignKey:OrderID" json:"shipping,omitempty"`
	Transactions []PaymentTransaction `gorm:"foreignKey:OrderID" json:"transactions,omitempty"`
}

// ComputeFinalAmount is the only way FinalAmount is derived.
func ComputeFinalAmount(total, discount, shippingFee int64) int64 {
	return total - discount + shippingFee
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	o.FinalAmount = ComputeFinalAmount(o.TotalAmount, o.DiscountAmount, o.ShippingFee)
	if o.FinalAmount < 0 {
		return ErrNegativeFinalAmount
	}
	return nil
}

type OrderItem struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrderID     uint   `gorm:"index;not null" json:"order_id"`
	VariantID   uint   `gorm:"index;not null" json:"variant_id"`
	SKU         string `gorm:"size:64;not null" json:"sku"`
	ProductName string `gorm:"size:255" json:"product_name"`
	VariantName string `gorm:"size:255" json:"variant_name"`
	Quantity    int64  `gorm:"not null" json:"quantity"`
	UnitPrice   int64  `gorm:"not null" json:"unit_price"`
	LineTotal   int64  `gorm:"not null" json:"line_total"`

	CreatedAt time.Time `json:"created_at"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	i.LineTotal = i.UnitPrice * i.Quantity
	return nil
}

func (i *OrderItem) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableLineItem
}

type Shipping struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrderID        uint           `gorm:"uniqueIndex;not null" json:"order_id"`
	RecipientName  string         `gorm:"size:255;not null" json:"recipient_name"`
	Phone          string         `gorm:"size:32;not null" json:"phone"`
	AddressLine    string         `gorm:"size:255;not null" json:"address_line"`
	Ward           string         `gorm:"size:128" json:"ward,omitempty"`
	District       string         `gorm:"size:128" json:"district,omitempty"`
	City           string         `gorm:"size:128" json:"city,omitempty"`
	Carrier        string         `gorm:"size:64" json:"carrier,omitempty"`
	TrackingNumber string         `gorm:"size:128" json:"tracking_number,omitempty"`
	Status         ShippingStatus `gorm:"size:32;index;not null" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PaymentTransaction struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	OrderID       uint              `gorm:"index;not null" json:"order_id"`
	Code          string            `gorm:"size:64;uniqueIndex;not null" json:"code"` // gateway TxnRef
	Kind          TransactionKind   `gorm:"size:16;not null" json:"kind"`
	Amount        int64             `gorm:"not null" json:"amount"`
	Status        TransactionStatus `gorm:"size:16;index;not null" json:"status"`
	PaymentMethod PaymentMethod     `gorm:"size:16;not null" json:"payment_method"`

	BankCode             string         `gorm:"size:32" json:"bank_code,omitempty"`
	ResponseCode         string         `gorm:"size:8" json:"response_code,omitempty"`
	GatewayTransactionNo string         `gorm:"size:64" json:"gateway_transaction_no,omitempty"`
	PaidAt               *time.Time     `json:"paid_at,omitempty"`
	RawPayload           datatypes.JSON `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
