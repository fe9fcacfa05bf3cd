package service

import (
	"context"
	"fmt"
	"io"
	"storefront/internal/model"
	"storefront/internal/repository"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Catalog is the seed file format used by opsctl seed.
type Catalog struct {
	Products []CatalogProduct `yaml:"products"`
	Coupons  []CatalogCoupon  `yaml:"coupons"`
}

type CatalogProduct struct {
	SKU         string           `yaml:"sku"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Variants    []CatalogVariant `yaml:"variants"`
}

type CatalogVariant struct {
	SKU   string `yaml:"sku"`
	Name  string `yaml:"name"`
	Price int64  `yaml:"price"`
	Stock int64  `yaml:"stock"`
}

type CatalogCoupon struct {
	Code           string     `yaml:"code"`
	Percent        int64      `yaml:"percent"`
	Amount         int64      `yaml:"amount"`
	MaxDiscount    int64      `yaml:"max_discount"`
	MinOrderAmount int64      `yaml:"min_order_amount"`
	UsageLimit     int64      `yaml:"usage_limit"`
	Active         *bool      `yaml:"active"`
	ExpiresAt      *time.Time `yaml:"expires_at"`
}

func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, c.validate()
}

func (c *Catalog) validate() error {
	for i, p := range c.Products {
		if p.SKU == "" || p.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("products[%d]", i), Message: "sku and name are required"}
		}
		for j, v := range p.Variants {
			if v.SKU == "" || v.Price < 0 || v.Stock < 0 {
				return &ValidationError{Field: fmt.Sprintf("products[%d].variants[%d]", i, j), Message: "sku is required, price and stock must not be negative"}
			}
		}
	}
	for i, cp := range c.Coupons {
		if cp.Code == "" || cp.Percent < 0 || cp.Percent > 100 || cp.Amount < 0 {
			return &ValidationError{Field: fmt.Sprintf("coupons[%d]", i), Message: "code is required, percent must be 0-100, amount must not be negative"}
		}
	}
	return nil
}

type CatalogService interface {
	Import(ctx context.Context, catalog *Catalog) error
	ListProducts(ctx context.Context) ([]*model.Product, error)
}

type catalogServiceImpl struct {
	db          *gorm.DB
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
}

func NewCatalogService(db *gorm.DB, productRepo repository.ProductRepository, couponRepo repository.CouponRepository) CatalogService {
	return &catalogServiceImpl{
		db:          db,
		productRepo: productRepo,
		couponRepo:  couponRepo,
	}
}

// Import upserts every product, variant and coupon of the catalog by key.
func (s *catalogServiceImpl) Import(ctx context.Context, catalog *Catalog) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range catalog.Products {
			product := &model.Product{
				SKU:         p.SKU,
				Name:        p.Name,
				Description: p.Description,
			}
			for _, v := range p.Variants {
				product.Variants = append(product.Variants, model.Variant{
					SKU:   v.SKU,
					Name:  v.Name,
					Price: v.Price,
					Stock: v.Stock,
				})
			}
			if err := s.productRepo.Upsert(ctx, tx, product); err != nil {
				return fmt.Errorf("upsert product %s: %w", p.SKU, err)
			}
		}

		for _, c := range catalog.Coupons {
			active := true
			if c.Active != nil {
				active = *c.Active
			}
			coupon := &model.Coupon{
				Code:           strings.ToUpper(c.Code),
				Percent:        c.Percent,
				Amount:         c.Amount,
				MaxDiscount:    c.MaxDiscount,
				MinOrderAmount: c.MinOrderAmount,
				UsageLimit:     c.UsageLimit,
				Active:         active,
				ExpiresAt:      c.ExpiresAt,
			}
			if err := s.couponRepo.Upsert(ctx, tx, coupon); err != nil {
				return fmt.Errorf("upsert coupon %s: %w", c.Code, err)
			}
		}
		return nil
	})
}

func (s *catalogServiceImpl) ListProducts(ctx context.Context) ([]*model.Product, error) {
	return s.productRepo.List(ctx)
}
