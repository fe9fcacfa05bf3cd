package service

import (
	"context"
	"fmt"
	"storefront/internal/model"
	"storefront/internal/repository"

	"github.com/google/uuid"
)

type CartService interface {
	Create(ctx context.Context, userID *uint) (*model.Cart, error)
	AddItem(ctx context.Context, cartID string, variantID uint, quantity int64) (*model.Cart, error)
	Get(ctx context.Context, cartID string) (*model.Cart, error)
}

type cartServiceImpl struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
}

func NewCartService(cartRepo repository.CartRepository, productRepo repository.ProductRepository) CartService {
	return &cartServiceImpl{
		cartRepo:    cartRepo,
		productRepo: productRepo,
	}
}

func (s *cartServiceImpl) Create(ctx context.Context, userID *uint) (*model.Cart, error) {
	cart := &model.Cart{
		ID:     uuid.NewString(),
		UserID: userID,
		Items:  []model.CartItem{},
	}
	if err := s.cartRepo.Create(ctx, cart); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

func (s *cartServiceImpl) AddItem(ctx context.Context, cartID string, variantID uint, quantity int64) (*model.Cart, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if _, err := s.cartRepo.FindByID(ctx, nil, cartID); err != nil {
		return nil, notFound(err, "cart %s", cartID)
	}
	if _, err := s.productRepo.FindVariant(ctx, nil, variantID); err != nil {
		return nil, notFound(err, "variant %d", variantID)
	}

	err := s.cartRepo.AddItem(ctx, &model.CartItem{
		CartID:    cartID,
		VariantID: variantID,
		Quantity:  quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return s.Get(ctx, cartID)
}

func (s *cartServiceImpl) Get(ctx context.Context, cartID string) (*model.Cart, error) {
	cart, err := s.cartRepo.FindByID(ctx, nil, cartID)
	if err != nil {
		return nil, notFound(err, "cart %s", cartID)
	}
	return cart, nil
}
