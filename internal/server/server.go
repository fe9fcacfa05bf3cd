package server

import (
	"context"
	"errors"
	"net/http"
	"storefront/internal/cache"
	"storefront/internal/config"
	"storefront/internal/dto"
	"storefront/internal/handler"
	appmiddleware "storefront/internal/middleware"
	"storefront/internal/service"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Cart           service.CartService
	Catalog        service.CatalogService
	Checkout       service.CheckoutService
	Order          service.OrderService
	Reconciliation service.ReconciliationService
	Sweeper        service.Sweeper
	Idempotency    cache.IdempotencyStore
}

type Server struct {
	echo            *echo.Echo
	cfg             config.HTTPServer
	jwtSecret       []byte
	log             zerolog.Logger
	cartHandler     *handler.CartHandler
	checkoutHandler *handler.CheckoutHandler
	paymentHandler  *handler.PaymentHandler
	adminHandler    *handler.AdminHandler
}

func NewServer(cfg config.HTTPServer, auth config.Auth, services Services, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:            e,
		cfg:             cfg,
		jwtSecret:       []byte(auth.JWTSecret),
		log:             log,
		cartHandler:     handler.NewCartHandler(services.Cart, services.Catalog),
		checkoutHandler: handler.NewCheckoutHandler(services.Checkout, services.Order, services.Idempotency, log),
		paymentHandler:  handler.NewPaymentHandler(services.Reconciliation, log),
		adminHandler:    handler.NewAdminHandler(services.Order, services.Reconciliation, services.Sweeper),
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- storefront --------
	public := []echo.MiddlewareFunc{s.rateLimiter()}
	if len(s.jwtSecret) > 0 {
		public = append(public, appmiddleware.OptionalUser(s.jwtSecret))
	}
	api.GET("/products", s.cartHandler.ListProducts, public...)
	api.POST("/carts", s.cartHandler.CreateCart, public...)
	api.GET("/carts/:id", s.cartHandler.GetCart, public...)
	api.POST("/carts/:id/items", s.cartHandler.AddItem, public...)
	api.POST("/checkout", s.checkoutHandler.Checkout, public...)
	api.GET("/orders/:code", s.checkoutHandler.GetOrder, public...)
	api.POST("/orders/:code/payments", s.checkoutHandler.RetryPayment, public...)

	// -------- gateway callbacks --------
	vnpay := api.Group("/payments/vnpay")
	vnpay.GET("/return", s.paymentHandler.Return)
	vnpay.GET("/ipn", s.paymentHandler.IPN)

	// -------- operator --------
	if len(s.jwtSecret) == 0 {
		s.log.Warn().Msg("AUTH_JWT_SECRET not set, admin routes disabled")
		return
	}
	admin := api.Group("/admin", appmiddleware.RequireRole(s.jwtSecret, appmiddleware.RoleAdmin))
	admin.GET("/orders", s.adminHandler.ListOrders)
	admin.POST("/orders/:code/confirm", s.adminHandler.ConfirmOrder)
	admin.POST("/orders/:code/ship", s.adminHandler.ShipOrder)
	admin.POST("/orders/:code/shipping", s.adminHandler.UpdateShipping)
	admin.POST("/orders/:code/cancel", s.adminHandler.CancelOrder)
	admin.POST("/orders/:code/cod-delivered", s.adminHandler.ConfirmCODDelivery)
	admin.POST("/orders/:code/refund", s.adminHandler.RequestRefund)
	admin.POST("/orders/:code/refund/complete", s.adminHandler.CompleteRefund)
	admin.POST("/orders/:code/review/resolve", s.adminHandler.ResolveReview)
	admin.POST("/sweep", s.adminHandler.Sweep)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.log.Info()
			if v.Status >= http.StatusInternalServerError {
				event = s.log.Error().Err(v.Error)
			}
			event.
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("remote_ip", v.RemoteIP).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

func (s *Server) rateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.cfg.RateLimit),
				Burst:     s.cfg.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("write error response")
	}
}

// errorResponse maps service errors onto HTTP statuses. Anything unknown is
// a 500 with a generic message.
func errorResponse(err error) (int, *dto.ErrorResponse) {
	var httpErr *echo.HTTPError
	var validationErr *service.ValidationError
	var stockErr *service.InsufficientStockError

	switch {
	case errors.As(err, &httpErr):
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, &dto.ErrorResponse{Error: msg}
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, &dto.ErrorResponse{Error: validationErr.Message, Field: validationErr.Field}
	case errors.As(err, &stockErr):
		return http.StatusUnprocessableEntity, &dto.ErrorResponse{
			Error: service.ErrInsufficientStock.Error(),
			Data: map[string]interface{}{
				"variant_id": stockErr.VariantID,
				"sku":        stockErr.SKU,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			},
		}
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusConflict, &dto.ErrorResponse{Error: err.Error()}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, &dto.ErrorResponse{Error: err.Error()}
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrConcurrentUpdate):
		return http.StatusConflict, &dto.ErrorResponse{Error: err.Error()}
	case errors.Is(err, service.ErrSignatureMismatch),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrUnknownReference):
		return http.StatusBadRequest, &dto.ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, &dto.ErrorResponse{Error: "internal server error"}
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	err := s.echo.Start(address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
