package handler

import (
	"net/http"
	"storefront/internal/dto"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/service"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type AdminHandler struct {
	orderService          service.OrderService
	reconciliationService service.ReconciliationService
	sweeper               service.Sweeper
}

func NewAdminHandler(
	orderService service.OrderService,
	reconciliationService service.ReconciliationService,
	sweeper service.Sweeper,
) *AdminHandler {
	return &AdminHandler{
		orderService:          orderService,
		reconciliationService: reconciliationService,
		sweeper:               sweeper,
	}
}

func (h *AdminHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return err
	}

	filter := repository.OrderFilter{
		Status:        model.OrderStatus(c.QueryParam("status")),
		PaymentStatus: model.PaymentStatus(c.QueryParam("payment_status")),
		PaymentMethod: model.PaymentMethod(c.QueryParam("payment_method")),
		Email:         strings.TrimSpace(c.QueryParam("email")),
		Limit:         limit,
		Offset:        offset,
	}
	if raw := c.QueryParam("needs_review"); raw != "" {
		needsReview, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid needs_review")
		}
		filter.NeedsReview = &needsReview
	}

	orders, total, err := h.orderService.List(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.OrderListResponse{
		Orders: orders,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *AdminHandler) ConfirmOrder(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.orderService.Confirm(ctx, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) ShipOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ShipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	order, err := h.orderService.Ship(ctx, c.Param("code"), req.Carrier, req.TrackingNumber)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) UpdateShipping(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ShippingStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	order, err := h.orderService.UpdateShipping(ctx, c.Param("code"), model.ShippingStatus(req.Status))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) CancelOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	order, err := h.orderService.Cancel(ctx, c.Param("code"), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) ConfirmCODDelivery(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.reconciliationService.ConfirmCODDelivery(ctx, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) RequestRefund(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	order, err := h.reconciliationService.RequestRefund(ctx, c.Param("code"), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) CompleteRefund(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.reconciliationService.CompleteRefund(ctx, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) ResolveReview(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.orderService.ResolveReview(ctx, c.Param("code"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) Sweep(c echo.Context) error {
	ctx := c.Request().Context()

	report, err := h.sweeper.Sweep(ctx, time.Now())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, report)
}
