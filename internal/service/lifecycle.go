package service

import (
	"context"
	"fmt"
	"storefront/internal/model"
	"storefront/internal/repository"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newOrderCode returns ORD + yyMMdd + 6 random uppercase alphanumerics.
func newOrderCode(now time.Time) string {
	u := uuid.New()
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = codeAlphabet[int(u[i])%len(codeAlphabet)]
	}
	return "ORD" + now.Format("060102") + string(suffix)
}

func newTransactionCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20]
}

// reserveStock decrements every line of the order. On a shortfall the lines
// already taken are put back and an *InsufficientStockError is returned.
func reserveStock(ctx context.Context, tx *gorm.DB, products repository.ProductRepository, items []model.OrderItem) error {
	for i, item := range items {
		ok, err := products.DecrementStock(ctx, tx, item.VariantID, item.Quantity)
		if err != nil {
			return fmt.Errorf("decrement stock for %s: %w", item.SKU, err)
		}
		if ok {
			continue
		}

		for _, done := range items[:i] {
			if err := products.IncrementStock(ctx, tx, done.VariantID, done.Quantity); err != nil {
				return fmt.Errorf("restore stock for %s: %w", done.SKU, err)
			}
		}

		available := int64(0)
		if v, err := products.FindVariant(ctx, tx, item.VariantID); err == nil {
			available = v.Stock
		}
		return &InsufficientStockError{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Requested: item.Quantity,
			Available: available,
		}
	}
	return nil
}

func releaseStock(ctx context.Context, tx *gorm.DB, products repository.ProductRepository, order *model.Order) error {
	if !order.StockReserved {
		return nil
	}
	for _, item := range order.Items {
		if err := products.IncrementStock(ctx, tx, item.VariantID, item.Quantity); err != nil {
			return fmt.Errorf("release stock for %s: %w", item.SKU, err)
		}
	}
	order.StockReserved = false
	return nil
}

func flagForReview(order *model.Order, reason string) {
	order.NeedsReview = true
	if order.ReviewReason == "" {
		order.ReviewReason = reason
		return
	}
	order.ReviewReason = truncate(order.ReviewReason+"; "+reason, 255)
}

// truncate limits s to n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func saveState(ctx context.Context, tx *gorm.DB, orders repository.OrderRepository, order *model.Order) error {
	if err := orders.UpdateState(ctx, tx, order); err != nil {
		return fmt.Errorf("update order %s: %w", order.Code, err)
	}
	return nil
}
