package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"storefront/internal/cache"
	"storefront/internal/dto"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/service"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const idempotencyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	checkoutService service.CheckoutService
	orderService    service.OrderService
	idempotency     cache.IdempotencyStore
	log             zerolog.Logger
}

func NewCheckoutHandler(
	checkoutService service.CheckoutService,
	orderService service.OrderService,
	idempotency cache.IdempotencyStore,
	log zerolog.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		orderService:    orderService,
		idempotency:     idempotency,
		log:             log,
	}
}

func (h *CheckoutHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key != "" {
		key = "checkout:" + key
		stored, claimed, err := h.idempotency.Begin(ctx, key)
		if errors.Is(err, cache.ErrInProgress) {
			return echo.NewHTTPError(http.StatusConflict, "a checkout with this idempotency key is in progress")
		}
		if err != nil {
			return err
		}
		if !claimed {
			c.Response().Header().Set("Idempotent-Replayed", "true")
			return c.JSONBlob(stored.Status, stored.Body)
		}
	}

	result, err := h.checkoutService.Checkout(ctx, service.CheckoutInput{
		CartID:        req.CartID,
		UserID:        middleware.UserIDFromContext(c),
		Email:         req.Email,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		CouponCode:    req.CouponCode,
		BankCode:      req.BankCode,
		ClientIP:      c.RealIP(),
		Shipping: service.ShippingInput{
			RecipientName: req.Shipping.RecipientName,
			Phone:         req.Shipping.Phone,
			AddressLine:   req.Shipping.AddressLine,
			Ward:          req.Shipping.Ward,
			District:      req.Shipping.District,
			City:          req.Shipping.City,
		},
	})
	if err != nil {
		if key != "" {
			if relErr := h.idempotency.Release(ctx, key); relErr != nil {
				h.log.Error().Err(relErr).Str("key", key).Msg("release idempotency key")
			}
		}
		return err
	}

	resp := dto.NewCheckoutResponse(result.Order, result.RedirectURL)
	if key != "" {
		body, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		stored := cache.StoredResponse{Status: http.StatusCreated, Body: body}
		if err := h.idempotency.Complete(ctx, key, stored); err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("store idempotent response")
		}
	}

	return c.JSON(http.StatusCreated, resp)
}

func (h *CheckoutHandler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.orderService.Get(ctx, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

// RetryPayment opens a new gateway attempt for an unpaid order.
func (h *CheckoutHandler) RetryPayment(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.checkoutService.CreatePaymentAttempt(ctx, c.Param("code"), c.RealIP())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewCheckoutResponse(result.Order, result.RedirectURL))
}
