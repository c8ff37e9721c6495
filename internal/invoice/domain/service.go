package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CreateInvoiceRequest struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	Date          string          `json:"date"`
	DueDate       string          `json:"dueDate"`
	ClientName    string          `json:"clientName"`
	ClientEmail   string          `json:"clientEmail"`
	ClientPhone   string          `json:"clientPhone"`
	ClientAddress string          `json:"clientAddress"`
	Items         []LineItem      `json:"items"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
}

type UpdateInvoiceRequest struct {
	Status    string  `json:"status"`
	PaymentID *string `json:"paymentId"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	ListByEmail(ctx context.Context, email string) ([]Invoice, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)
	UpdateStatus(ctx context.Context, invoiceNumber string, req UpdateInvoiceRequest) (*Invoice, error)
	RenderPDF(ctx context.Context, invoiceNumber string) ([]byte, error)
}

var (
	ErrNotFound               = errors.New("not_found")
	ErrDuplicateInvoiceNumber = errors.New("duplicate_invoice_number")
	ErrInvalidInvoiceNumber   = errors.New("invalid_invoice_number")
	ErrInvalidClientName      = errors.New("invalid_client_name")
	ErrInvalidClientEmail     = errors.New("invalid_client_email")
	ErrInvalidDate            = errors.New("invalid_date")
	ErrInvalidDueDate         = errors.New("invalid_due_date")
	ErrInvalidItems           = errors.New("invalid_items")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidStatus          = errors.New("invalid_status")
)
