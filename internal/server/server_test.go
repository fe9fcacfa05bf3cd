package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"storefront/internal/config"
	"storefront/internal/dto"
	appmiddleware "storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/service"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testJWTSecret = "test-jwt-secret"

type stubOrders struct {
	service.OrderService
	getErr error
}

func (s *stubOrders) Get(ctx context.Context, code string) (*model.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &model.Order{Code: code, Status: model.OrderPending}, nil
}

func (s *stubOrders) List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, int64, error) {
	return []*model.Order{{Code: "ORD1"}}, 1, nil
}

func newTestServer(t *testing.T, orders service.OrderService, secret string) *Server {
	t.Helper()
	return NewServer(
		config.HTTPServer{RateLimit: 100, RateBurst: 100},
		config.Auth{JWTSecret: secret},
		Services{Order: orders},
		zerolog.Nop(),
	)
}

func signToken(t *testing.T, role string) string {
	t.Helper()
	claims := appmiddleware.Claims{
		UserID: 7,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, testJWTSecret)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, testJWTSecret)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"customer token", signToken(t, "customer"), http.StatusForbidden},
		{"admin token", signToken(t, appmiddleware.RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/orders?status=pending", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPublicRoutesAcceptGuestsButRejectBadTokens(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, testJWTSecret)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ORD1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("guest: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORD1", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("order ORD9: %w", service.ErrNotFound), http.StatusNotFound},
		{"validation", &service.ValidationError{Field: "email", Message: "is required"}, http.StatusBadRequest},
		{"empty cart", service.ErrEmptyCart, http.StatusConflict},
		{"stock", &service.InsufficientStockError{VariantID: 1, SKU: "A", Requested: 3, Available: 1}, http.StatusUnprocessableEntity},
		{"transition", fmt.Errorf("%w: order ORD1 is shipped", service.ErrInvalidTransition), http.StatusConflict},
		{"concurrent", service.ErrConcurrentUpdate, http.StatusConflict},
		{"unknown", fmt.Errorf("dial tcp: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &stubOrders{getErr: tt.err}, testJWTSecret)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/ORD9", nil))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}

			var body dto.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if tt.status == http.StatusInternalServerError && body.Error != "internal server error" {
				t.Fatalf("internal error leaked: %q", body.Error)
			}
		})
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	status, body := errorResponse(&service.ValidationError{Field: "email", Message: "is required"})
	if status != http.StatusBadRequest || body.Field != "email" || body.Error != "is required" {
		t.Fatalf("unexpected %d %+v", status, body)
	}
}
