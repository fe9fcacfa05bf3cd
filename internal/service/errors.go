package service

import (
	"errors"
	"fmt"
	"storefront/internal/model"
	"storefront/internal/repository"

	"gorm.io/gorm"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSignatureMismatch = errors.New("gateway signature mismatch")
	ErrAmountMismatch    = errors.New("callback amount does not match order")
	ErrUnknownReference  = errors.New("unknown transaction reference")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrConcurrentUpdate  = repository.ErrVersionConflict
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type InsufficientStockError struct {
	VariantID uint
	SKU       string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// invalidTransition keeps the model.TransitionError reachable through errors.As.
func invalidTransition(err error) error {
	var te *model.TransitionError
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	return err
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
