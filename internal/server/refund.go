package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/zap"
)

func (s *Server) InitiateRefund(c *gin.Context) {
	var req paymentdomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.InitiateRefund(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrRefundTargetNotFound):
			respondError(c, http.StatusBadRequest, gin.H{"error": "order_id or invoice_number is required"}, err)
		case errors.Is(err, gateway.ErrNotConfigured):
			respondError(c, http.StatusInternalServerError, gin.H{"error": msgGatewayMisconfigured}, err)
		case errors.Is(err, paymentdomain.ErrRefundAmountNotFound):
			respondError(c, http.StatusBadRequest, gin.H{"error": "Valid refund amount not found"}, err)
		case errors.Is(err, paymentdomain.ErrRefundAmountNotPositive):
			respondError(c, http.StatusBadRequest, gin.H{"error": "Refund amount must be greater than 0"}, err)
		default:
			s.log.Error("refund initiation failed", zap.Error(err), zap.String("order_id", req.OrderID))
			respondError(c, http.StatusInternalServerError, gin.H{
				"error":   "Refund initiation failed",
				"details": gateway.ErrorDetails(err),
			}, err)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}
