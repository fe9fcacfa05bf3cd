package handler

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"storefront/internal/dto"
	"storefront/internal/model"
	"storefront/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// IPN response codes understood by the gateway.
const (
	ipnConfirmed        = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidAmount    = "04"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

type PaymentHandler struct {
	reconciliationService service.ReconciliationService
	log                   zerolog.Logger
}

func NewPaymentHandler(reconciliationService service.ReconciliationService, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		reconciliationService: reconciliationService,
		log:                   log,
	}
}

// IPN is the server-to-server callback. It always answers 200 so the
// gateway reads RspCode; only 99 makes the gateway retry.
func (h *PaymentHandler) IPN(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.reconciliationService.HandleGatewayCallback(ctx, service.SourceIPN, c.QueryParams())
	ack := ipnAck(result, err)
	if ack.RspCode == ipnUnknownError {
		h.log.Error().Err(err).Str("txn_ref", c.QueryParam("vnp_TxnRef")).Msg("ipn not processed")
	}

	return c.JSON(http.StatusOK, ack)
}

func ipnAck(result *service.ReconcileResult, err error) dto.IPNAck {
	var validationErr *service.ValidationError
	switch {
	case err == nil && result.Duplicate:
		return dto.IPNAck{RspCode: ipnAlreadyConfirmed, Message: "Order already confirmed"}
	case err == nil:
		return dto.IPNAck{RspCode: ipnConfirmed, Message: "Confirm Success"}
	case errors.Is(err, service.ErrSignatureMismatch):
		return dto.IPNAck{RspCode: ipnInvalidSignature, Message: "Invalid signature"}
	case errors.Is(err, service.ErrUnknownReference):
		return dto.IPNAck{RspCode: ipnOrderNotFound, Message: "Order not found"}
	case errors.Is(err, service.ErrAmountMismatch):
		return dto.IPNAck{RspCode: ipnInvalidAmount, Message: "Invalid amount"}
	case errors.As(err, &validationErr):
		return dto.IPNAck{RspCode: ipnUnknownError, Message: "Invalid request"}
	default:
		return dto.IPNAck{RspCode: ipnUnknownError, Message: "Unknown error"}
	}
}

var returnPage = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	<style>
		body {
			font-family: Arial, sans-serif;
			text-align: center;
			margin-top: 80px;
		}
		.countdown {
			font-size: 24px;
			font-weight: bold;
		}
	</style>
</head>
<body>
	<h2>{{.Title}}</h2>
	<p>{{.Message}}</p>
	{{if .OrderCode}}<p>Order <strong>{{.OrderCode}}</strong>{{if .Amount}} · {{.Amount}}{{end}}</p>{{end}}
	<p>Redirecting to homepage in <span class="countdown" id="countdown">10</span> seconds…</p>

	<script>
		let seconds = 10;
		const el = document.getElementById("countdown");

		const timer = setInterval(function () {
			seconds--;
			el.textContent = seconds;

			if (seconds <= 0) {
				clearInterval(timer);
				window.location.href = "/";
			}
		}, 1000);
	</script>
</body>
</html>
`))

type returnView struct {
	Title     string
	Message   string
	OrderCode string
	Amount    string
}

// Return handles the payer's browser coming back from the gateway. It runs
// the same reconciliation as the IPN, so whichever arrives first applies.
func (h *PaymentHandler) Return(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.reconciliationService.HandleGatewayCallback(ctx, service.SourceReturn, c.QueryParams())
	if err != nil {
		h.log.Warn().Err(err).Str("txn_ref", c.QueryParam("vnp_TxnRef")).Msg("payment return not reconciled")
	}

	view := newReturnView(result, err)
	var buf bytes.Buffer
	if err := returnPage.Execute(&buf, view); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func newReturnView(result *service.ReconcileResult, err error) returnView {
	view := returnView{}
	if result != nil {
		view.OrderCode = result.OrderCode
		if result.OrderCode != "" {
			view.Amount = service.FormatAmount(result.FinalAmount, result.Currency)
		}
	}

	switch {
	case errors.Is(err, service.ErrSignatureMismatch):
		view.Title = "Payment could not be verified"
		view.Message = "We could not verify this payment result. If you were charged, your order will be updated shortly."
		view.OrderCode, view.Amount = "", ""
	case err != nil:
		view.Title = "Payment is being processed"
		view.Message = "We are checking your payment with the bank. Your order status will be updated shortly."
	case result.PaymentStatus == model.PaymentPaid:
		view.Title = "Payment successful"
		view.Message = "Thank you. Your order is confirmed and a confirmation has been sent to your email."
	case result.TransactionStatus == model.TxnFailed:
		view.Title = "Payment was not completed"
		view.Message = "The payment was cancelled or declined. You can retry the payment from your order page."
	default:
		view.Title = "Payment is being processed"
		view.Message = "We are waiting for the bank to confirm your payment."
	}
	return view
}
