package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/clock"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"github.com/smallbiznis/invoicepay/internal/invoice/render"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     invoicedomain.Repository
	Renderer render.Renderer
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     invoicedomain.Repository
	renderer render.Renderer
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		renderer: p.Renderer,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.Invoice, error) {
	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if invoiceNumber == "" {
		return nil, invoicedomain.ErrInvalidInvoiceNumber
	}
	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		return nil, invoicedomain.ErrInvalidClientName
	}
	clientEmail := strings.TrimSpace(req.ClientEmail)
	if _, err := mail.ParseAddress(clientEmail); err != nil {
		return nil, invoicedomain.ErrInvalidClientEmail
	}

	issued, err := parseDate(req.Date)
	if err != nil {
		return nil, invoicedomain.ErrInvalidDate
	}
	due := issued
	if strings.TrimSpace(req.DueDate) != "" {
		due, err = parseDate(req.DueDate)
		if err != nil {
			return nil, invoicedomain.ErrInvalidDueDate
		}
	}
	if due.Before(issued) {
		return nil, invoicedomain.ErrInvalidDueDate
	}

	if len(req.Items) == 0 {
		return nil, invoicedomain.ErrInvalidItems
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.Description) == "" || !item.Quantity.IsPositive() || item.UnitPrice.IsNegative() {
			return nil, invoicedomain.ErrInvalidItems
		}
	}

	subtotal, tax, total := computeTotals(req)
	if !total.IsPositive() || req.TaxRate.IsNegative() {
		return nil, invoicedomain.ErrInvalidAmount
	}

	status := invoicedomain.NormalizeStatus(req.Status)
	if status == "" {
		status = invoicedomain.StatusCreated
	}
	if !knownStatus(status) {
		return nil, invoicedomain.ErrInvalidStatus
	}

	now := s.clock.Now()
	invoice := &invoicedomain.Invoice{
		ID:            s.genID.Generate(),
		InvoiceNumber: invoiceNumber,
		Date:          datatypes.Date(issued),
		DueDate:       datatypes.Date(due),
		ClientName:    clientName,
		ClientEmail:   clientEmail,
		ClientPhone:   strings.TrimSpace(req.ClientPhone),
		ClientAddress: strings.TrimSpace(req.ClientAddress),
		Items:         datatypes.NewJSONSlice(req.Items),
		TaxRate:       req.TaxRate,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         total,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, invoice); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, invoicedomain.ErrDuplicateInvoiceNumber
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	s.log.Info("invoice created",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("total", invoice.Total.StringFixed(2)),
	)
	return invoice, nil
}

func (s *Service) ListByEmail(ctx context.Context, email string) ([]invoicedomain.Invoice, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, invoicedomain.ErrInvalidClientEmail
	}
	items, err := s.repo.ListByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, invoicedomain.ErrNotFound
	}
	return items, nil
}

func (s *Service) GetByNumber(ctx context.Context, invoiceNumber string) (*invoicedomain.Invoice, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return nil, invoicedomain.ErrInvalidInvoiceNumber
	}
	invoice, err := s.repo.FindByNumber(ctx, s.db, invoiceNumber)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return invoice, nil
}

// UpdateStatus is the operator override: it skips the reconciliation ordering rules.
func (s *Service) UpdateStatus(ctx context.Context, invoiceNumber string, req invoicedomain.UpdateInvoiceRequest) (*invoicedomain.Invoice, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return nil, invoicedomain.ErrInvalidInvoiceNumber
	}
	status := invoicedomain.NormalizeStatus(req.Status)
	if !knownStatus(status) {
		return nil, invoicedomain.ErrInvalidStatus
	}

	var paymentID *string
	if req.PaymentID != nil {
		if trimmed := strings.TrimSpace(*req.PaymentID); trimmed != "" {
			paymentID = &trimmed
		}
	}

	rows, err := s.repo.SetStatus(ctx, s.db, invoiceNumber, status, paymentID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	if rows == 0 {
		return nil, invoicedomain.ErrNotFound
	}

	s.log.Info("invoice status overridden",
		zap.String("invoice_number", invoiceNumber),
		zap.String("status", string(status)),
	)
	return s.GetByNumber(ctx, invoiceNumber)
}

func (s *Service) RenderPDF(ctx context.Context, invoiceNumber string) ([]byte, error) {
	invoice, err := s.GetByNumber(ctx, invoiceNumber)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(*invoice)
}

// computeTotals fills in any total the client left at zero from the line items.
func computeTotals(req invoicedomain.CreateInvoiceRequest) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	subtotal := req.Subtotal
	if subtotal.IsZero() {
		for _, item := range req.Items {
			subtotal = subtotal.Add(item.Amount())
		}
	}
	tax := req.Tax
	if tax.IsZero() && req.TaxRate.IsPositive() {
		tax = subtotal.Mul(req.TaxRate).Div(hundred).Round(2)
	}
	total := req.Total
	if total.IsZero() {
		total = subtotal.Add(tax)
	}
	return subtotal, tax, total
}

func knownStatus(status invoicedomain.Status) bool {
	switch status {
	case invoicedomain.StatusCreated,
		invoicedomain.StatusPaid,
		invoicedomain.StatusRefundInitiating,
		invoicedomain.StatusRefunded,
		invoicedomain.StatusRefundFailed:
		return true
	default:
		return false
	}
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, invoicedomain.ErrInvalidDate
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
