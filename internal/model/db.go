package model

import (
	"time"

	"gorm.io/datatypes"
)

type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SKU         string    `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Variants    []Variant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Variant struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProductID uint   `gorm:"index;not null" json:"product_id"`
	SKU       string `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name      string `gorm:"size:255" json:"name"`
	Price     int64  `gorm:"not null" json:"price"`
	Stock     int64  `gorm:"not null;default:0" json:"stock"`

	Product   *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Cart struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    *uint      `gorm:"index" json:"user_id,omitempty"`
	Items     []CartItem `gorm:"foreignKey:CartID" json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	CartID    string   `gorm:"size:36;uniqueIndex:idx_cart_variant;not null" json:"cart_id"`
	VariantID uint     `gorm:"uniqueIndex:idx_cart_variant;not null" json:"variant_id"`
	Quantity  int64    `gorm:"not null" json:"quantity"`
	Variant   *Variant `gorm:"foreignKey:VariantID" json:"variant,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Coupon struct {
	Code           string     `gorm:"primaryKey;size:64" json:"code"`
	Percent        int64      `gorm:"not null;default:0" json:"percent"` // 0-100, used when Amount is 0
	Amount         int64      `gorm:"not null;default:0" json:"amount"`
	MaxDiscount    int64      `gorm:"not null;default:0" json:"max_discount"` // 0 = uncapped
	MinOrderAmount int64      `gorm:"not null;default:0" json:"min_order_amount"`
	UsageLimit     int64      `gorm:"not null;default:0" json:"usage_limit"` // 0 = unlimited
	UsedCount      int64      `gorm:"not null;default:0" json:"used_count"`
	Active         bool       `gorm:"not null" json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Discount returns the discount this coupon grants on total, capped at total.
func (c *Coupon) Discount(total int64) int64 {
	var d int64
	if c.Amount > 0 {
		d = c.Amount
	} else {
		d = total * c.Percent / 100
	}
	if c.MaxDiscount > 0 && d > c.MaxDiscount {
		d = c.MaxDiscount
	}
	if d > total {
		d = total
	}
	return d
}

// Callback outcomes recorded for every gateway callback.
const (
	CallbackApplied          = "applied"
	CallbackFailed           = "failed"
	CallbackDuplicate        = "duplicate"
	CallbackInvalidSignature = "invalid_signature"
	CallbackAmountMismatch   = "amount_mismatch"
	CallbackUnknownReference = "unknown_reference"
	CallbackDuplicatePayment = "duplicate_payment"
)

// CallbackEvent is an append-only audit row for gateway callbacks.
type CallbackEvent struct {
	ID              uint           `gorm:"primaryKey"`
	TransactionCode string         `gorm:"size:64;index"`
	Source          string         `gorm:"size:32;not null"` // ipn, return, query
	Outcome         string         `gorm:"size:32;index;not null"`
	Detail          string         `gorm:"size:255"`
	Payload         datatypes.JSON
	ReceivedAt      time.Time      `gorm:"not null"`
	CreatedAt       time.Time
}

func AllModels() []interface{} {
	return []interface{}{
		&Product{},
		&Variant{},
		&Cart{},
		&CartItem{},
		&Coupon{},
		&Order{},
		&OrderItem{},
		&Shipping{},
		&PaymentTransaction{},
		&CallbackEvent{},
	}
}
