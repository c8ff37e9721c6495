package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/invoicepay/internal/observability/context"
	"github.com/smallbiznis/invoicepay/internal/payment/adapters/cashfree"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleCashfreeWebhook reads the body untouched; the signature covers the exact bytes.
func (s *Server) HandleCashfreeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusBadRequest, "Bad Request")
		return
	}

	result, err := s.webhookSvc.IngestWebhook(c.Request.Context(), cashfree.Provider, payload, c.Request.Header)
	if err != nil {
		status, body := webhookErrorResponse(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("webhook rejected", zap.Error(err))
		} else {
			s.log.Warn("webhook rejected", zap.Error(err))
		}
		_ = c.Error(err)
		c.String(status, body)
		return
	}

	if result != nil {
		c.Set(obscontext.OrderIDKey, result.OrderID)
	}
	c.String(http.StatusOK, "OK")
}

func webhookErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, paymentdomain.ErrMissingSignature):
		return http.StatusBadRequest, "Missing signature"
	case errors.Is(err, paymentdomain.ErrMissingTimestamp):
		return http.StatusBadRequest, "Missing timestamp"
	case errors.Is(err, paymentdomain.ErrSecretNotConfigured):
		return http.StatusInternalServerError, "Server not configured"
	case errors.Is(err, paymentdomain.ErrMalformedSignature):
		return http.StatusBadRequest, "Invalid signature format"
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	default:
		return http.StatusBadRequest, "Bad Request"
	}
}
