package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/gateway"
)

// Gateway is the outbound PG surface the payment flows depend on.
type Gateway interface {
	Configured() bool
	Env() string
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	GetOrder(ctx context.Context, orderID string) (*gateway.Order, error)
	CreateRefund(ctx context.Context, orderID string, req gateway.RefundRequest) (*gateway.Refund, error)
}

// WebhookAdapter authenticates and decodes deliveries from one provider.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) (Verification, error)
	Parse(ctx context.Context, payload []byte) (*GatewayEvent, error)
}

type CreateOrderRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	InvoiceNumber string          `json:"invoiceNumber"`
	ClientName    string          `json:"clientName"`
	ClientEmail   string          `json:"clientEmail"`
	ClientPhone   string          `json:"clientPhone"`
}

type CreateOrderResponse struct {
	CFOrderID        string `json:"cf_order_id"`
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	Env              string `json:"env"`
}

type VerifyPaymentRequest struct {
	OrderID string `json:"order_id"`
}

type VerifyPaymentResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// RefundRequest accepts the invoice number under either casing. Amount is parsed
// leniently: anything that is not a positive number defers to the stored amount.
type RefundRequest struct {
	OrderID            string          `json:"order_id"`
	InvoiceNumber      string          `json:"invoice_number"`
	InvoiceNumberCamel string          `json:"invoiceNumber"`
	Amount             json.RawMessage `json:"amount"`
}

type RefundResponse struct {
	Success  bool            `json:"success"`
	RefundID string          `json:"refund_id"`
	Cashfree json.RawMessage `json:"cashfree"`
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	VerifyPayment(ctx context.Context, orderID string) (*VerifyPaymentResponse, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	ListPendingForReconcile(ctx context.Context, maxAge time.Duration, limit int) ([]Payment, error)
}

// IngestResult summarises a webhook delivery for the transport layer.
type IngestResult struct {
	Provider  string
	OrderID   string
	Family    Family
	Duplicate bool
	Bypassed  bool
	Ignored   bool
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*IngestResult, error)
}
