package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"go.uber.org/zap"
)

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		if isValidationError(err) || isConflictError(err) {
			AbortWithError(c, err)
			return
		}
		s.log.Error("create invoice failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, gin.H{"error": "Internal server error"}, err)
		return
	}

	c.JSON(http.StatusCreated, invoice)
}

// ListInvoicesByEmail serves GET /api/invoices/:key where key is the client email.
func (s *Server) ListInvoicesByEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Param("key"))

	items, err := s.invoiceSvc.ListByEmail(c.Request.Context(), email)
	if err != nil {
		switch {
		case errors.Is(err, invoicedomain.ErrNotFound):
			respondError(c, http.StatusNotFound, gin.H{"message": "No invoices found"}, nil)
		case isValidationError(err):
			AbortWithError(c, err)
		default:
			s.log.Error("list invoices failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, gin.H{"error": "Server error"}, err)
		}
		return
	}

	c.JSON(http.StatusOK, items)
}

// DownloadInvoicePDF serves GET /api/invoices/:key/pdf where key is the invoice number.
func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	invoiceNumber := strings.TrimSpace(c.Param("key"))

	doc, err := s.invoiceSvc.RenderPDF(c.Request.Context(), invoiceNumber)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, sanitizeFilename(invoiceNumber)))
	c.Data(http.StatusOK, "application/pdf", doc)
}

// UpdateInvoice is the manual override; id is the invoice number.
func (s *Server) UpdateInvoice(c *gin.Context) {
	invoiceNumber := strings.TrimSpace(c.Param("id"))

	var req invoicedomain.UpdateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.UpdateStatus(c.Request.Context(), invoiceNumber, req)
	if err != nil {
		if isValidationError(err) || isNotFoundError(err) {
			AbortWithError(c, err)
			return
		}
		s.log.Error("update invoice failed", zap.Error(err), zap.String("invoice_number", invoiceNumber))
		respondError(c, http.StatusInternalServerError, gin.H{"error": "Internal server error"}, err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
