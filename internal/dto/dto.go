package dto

import "storefront/internal/model"

type CreateCartRequest struct {
	UserID *uint `json:"user_id"`
}

type AddCartItemRequest struct {
	VariantID uint  `json:"variant_id"`
	Quantity  int64 `json:"quantity"`
}

type ShippingAddress struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	AddressLine   string `json:"address_line"`
	Ward          string `json:"ward"`
	District      string `json:"district"`
	City          string `json:"city"`
}

type CheckoutRequest struct {
	CartID        string          `json:"cart_id"`
	Email         string          `json:"email"`
	PaymentMethod string          `json:"payment_method"`
	CouponCode    string          `json:"coupon_code"`
	BankCode      string          `json:"bank_code"`
	Shipping      ShippingAddress `json:"shipping"`
}

type CheckoutResponse struct {
	OrderID       uint                `json:"order_id"`
	OrderCode     string              `json:"order_code"`
	FinalAmount   int64               `json:"final_amount"`
	Currency      string              `json:"currency"`
	Status        model.OrderStatus   `json:"status"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	RedirectURL   string              `json:"redirect_url,omitempty"`
}

func NewCheckoutResponse(order *model.Order, redirectURL string) *CheckoutResponse {
	return &CheckoutResponse{
		OrderID:       order.ID,
		OrderCode:     order.Code,
		FinalAmount:   order.FinalAmount,
		Currency:      order.Currency,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		RedirectURL:   redirectURL,
	}
}

type ShipRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type ShippingStatusRequest struct {
	Status string `json:"status"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type OrderListResponse struct {
	Orders []*model.Order `json:"orders"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// IPNAck is the body the gateway expects back from the IPN endpoint.
type IPNAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

type ErrorResponse struct {
	Error string      `json:"error"`
	Field string      `json:"field,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}
