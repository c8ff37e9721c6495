package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	obscontext "github.com/smallbiznis/invoicepay/internal/observability/context"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/zap"
)

const msgGatewayMisconfigured = "Server misconfigured: Cashfree credentials missing"

func (s *Server) CreateOrder(c *gin.Context) {
	var req paymentdomain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.CreateOrder(c.Request.Context(), req)
	if err != nil {
		switch {
		case isValidationError(err):
			AbortWithError(c, err)
		case errors.Is(err, gateway.ErrNotConfigured):
			respondError(c, http.StatusInternalServerError, gin.H{"error": msgGatewayMisconfigured}, err)
		default:
			s.log.Error("create order failed", zap.Error(err), zap.String("invoice_number", req.InvoiceNumber))
			respondError(c, http.StatusInternalServerError, gin.H{
				"error":   "Error creating Cashfree order",
				"details": gateway.ErrorDetails(err),
			}, err)
		}
		return
	}

	c.Set(obscontext.OrderIDKey, resp.OrderID)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) VerifyPayment(c *gin.Context) {
	var req paymentdomain.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	c.Set(obscontext.OrderIDKey, orderID)

	resp, err := s.paymentSvc.VerifyPayment(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidOrderID) {
			AbortWithError(c, err)
			return
		}
		s.log.Error("verify payment failed", zap.Error(err), zap.String("order_id", orderID))
		respondError(c, http.StatusInternalServerError, gin.H{"error": "Payment verification failed"}, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPayment(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("order_id"))
	c.Set(obscontext.OrderIDKey, orderID)

	item, err := s.paymentSvc.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrNotFound), errors.Is(err, paymentdomain.ErrInvalidOrderID):
			respondError(c, http.StatusNotFound, gin.H{"error": "Payment not found"}, nil)
		default:
			s.log.Error("load payment failed", zap.Error(err), zap.String("order_id", orderID))
			respondError(c, http.StatusInternalServerError, gin.H{"error": "Internal server error"}, err)
		}
		return
	}

	c.JSON(http.StatusOK, item)
}
