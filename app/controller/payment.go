package controller

import (
	"errors"
	"net/http"

	"github.com/axiomedu/ms-go-billing/app/factory"
	"github.com/axiomedu/ms-go-billing/app/gateway"
	"github.com/axiomedu/ms-go-billing/app/mapper"
	"github.com/axiomedu/ms-go-billing/app/service"
	"github.com/axiomedu/ms-go-billing/app/types"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("billing-controller"),
	}
}

// requestLogger tags log lines with the request id so a failing call can be
// traced back to the gateway or client request that hit it.
func (c *PaymentController) requestLogger(ctx echo.Context) logrus.FieldLogger {
	return factory.LoggerWithContext(c.logger, ctx)
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPaymentByInvoice(ctx.Request().Context(), req.InvoiceNumber)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		}
		c.requestLogger(ctx).WithError(err).Error("Get payment failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) InitializePayment(ctx echo.Context) error {
	req, err := types.NewInitializePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPaymentByInvoice(ctx.Request().Context(), req.InvoiceNumber)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		}
		c.requestLogger(ctx).WithError(err).Error("Initialize payment failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	result, err := c.paymentService.InitializePayment(ctx.Request().Context(), item, req.GatewayCode, gateway.InitOptions{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		SuccessURL:    req.SuccessURL,
		FailURL:       req.FailURL,
		CancelURL:     req.CancelURL,
		Metadata:      req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGatewayNotFound):
			return c.writeError(ctx, http.StatusNotFound, "gateway not found")
		case errors.Is(err, service.ErrGatewayInactive),
			errors.Is(err, service.ErrGatewayUnsupported),
			errors.Is(err, service.ErrGatewayMisconfigured),
			errors.Is(err, service.ErrInvalidAmount):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrAlreadyProcessed):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		case gateway.IsCommunicationError(err):
			return c.writeError(ctx, http.StatusBadGateway, "gateway unavailable")
		default:
			c.requestLogger(ctx).WithError(err).Error("Initialize payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.InitializePaymentResponse{
		Payment:      mapper.PaymentToResponse(result.Payment),
		RedirectURL:  result.RedirectURL,
		Instructions: result.Instructions,
	})
}

func (c *PaymentController) VerifyPayment(ctx echo.Context) error {
	req, err := types.NewVerifyPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPaymentByInvoice(ctx.Request().Context(), req.InvoiceNumber)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		}
		c.requestLogger(ctx).WithError(err).Error("Verify payment failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	item, err = c.paymentService.VerifyPayment(ctx.Request().Context(), item)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyProcessed):
			// Terminal payments are already settled; return the current row.
			return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
		case errors.Is(err, service.ErrGatewayUnsupported), errors.Is(err, service.ErrGatewayMisconfigured):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case gateway.IsCommunicationError(err):
			return c.writeError(ctx, http.StatusBadGateway, "gateway unavailable")
		default:
			c.requestLogger(ctx).WithError(err).Error("Verify payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) HandleGatewayCallback(ctx echo.Context) error {
	req, err := types.NewGatewayCallbackRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	_, err = c.paymentService.ProcessCallback(ctx.Request().Context(), req.GatewayCode, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyProcessed):
			return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Callback processed"})
		case errors.Is(err, service.ErrGatewayNotFound), errors.Is(err, service.ErrGatewayUnsupported):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrPaymentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case gateway.IsCommunicationError(err):
			return c.writeError(ctx, http.StatusBadGateway, "gateway unavailable")
		default:
			c.requestLogger(ctx).WithError(err).Error("Handle gateway callback failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Callback processed"})
}

func (c *PaymentController) InitiateRefund(ctx echo.Context) error {
	req, err := types.NewInitiateRefundRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPaymentByInvoice(ctx.Request().Context(), req.InvoiceNumber)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		}
		c.requestLogger(ctx).WithError(err).Error("Initiate refund failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	refund, err := c.paymentService.InitiateRefund(ctx.Request().Context(), item.ID, service.RefundRequest{
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
		ProcessedBy: req.ProcessedBy,
		Metadata:    req.Metadata,
	})
	if err != nil {
		var limitErr *service.AmountExceedsLimitError
		switch {
		case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrNotRefundable):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.As(err, &limitErr):
			return c.writeError(ctx, http.StatusUnprocessableEntity, limitErr.Error())
		case errors.Is(err, service.ErrGatewayNotFound), errors.Is(err, service.ErrGatewayUnsupported):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case gateway.IsCommunicationError(err):
			// The refund row exists and will be settled by reconciliation.
			if refund != nil {
				return ctx.JSON(http.StatusAccepted, &types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(refund)})
			}
			return c.writeError(ctx, http.StatusBadGateway, "gateway unavailable")
		default:
			c.requestLogger(ctx).WithError(err).Error("Initiate refund failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(refund)})
}

func (c *PaymentController) CancelRefund(ctx echo.Context) error {
	req, err := types.NewCancelRefundRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	refund, err := c.paymentService.CancelRefund(ctx.Request().Context(), req.RefundID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefundNotFound):
			return c.writeError(ctx, http.StatusNotFound, "refund not found")
		case errors.Is(err, service.ErrRefundNotCancellable):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		default:
			c.requestLogger(ctx).WithError(err).Error("Cancel refund failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(refund)})
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
