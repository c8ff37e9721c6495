package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is a payment status. Gateway success variants are kept verbatim (upper-cased).
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusActive           Status = "ACTIVE"
	StatusPaid             Status = "PAID"
	StatusSuccess          Status = "SUCCESS"
	StatusRefundInitiated  Status = "REFUND_INITIATED"
	StatusRefundProcessing Status = "REFUND_PROCESSING"
	StatusRefunded         Status = "REFUNDED"
	StatusRefundFailed     Status = "REFUND_FAILED"
)

func NormalizeStatus(value string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(value)))
}

// Payment is one checkout attempt against the gateway. An invoice may own several.
type Payment struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID          string          `json:"order_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_order_id"`
	GatewayOrderID   string          `json:"gateway_order_id" gorm:"type:varchar(191);not null;default:'';index:ix_payments_gateway_order_id"`
	InvoiceNumber    string          `json:"invoice_number" gorm:"type:varchar(191);not null;default:'';index:ix_payments_invoice_number"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	Currency         string          `json:"currency" gorm:"type:varchar(8);not null;default:'INR'"`
	CustomerEmail    string          `json:"customer_email" gorm:"type:varchar(255);not null;default:''"`
	CustomerPhone    string          `json:"customer_phone" gorm:"type:varchar(64);not null;default:''"`
	PaymentSessionID string          `json:"payment_session_id" gorm:"type:varchar(512);not null;default:''"`
	Status           Status          `json:"status" gorm:"type:varchar(32);not null;default:'PENDING';index:ix_payments_status_created_at,priority:1"`
	Version          int64           `json:"version" gorm:"not null;default:1"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null;index:ix_payments_status_created_at,priority:2"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// WebhookEvent records each authenticated delivery so exact re-deliveries short-circuit.
type WebhookEvent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID   string         `json:"provider_event_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType         string         `json:"event_type" gorm:"type:varchar(64);not null;default:''"`
	OrderID           string         `json:"order_id" gorm:"type:varchar(191);not null;default:''"`
	Payload           datatypes.JSON `json:"payload" gorm:"not null"`
	SignatureVerified bool           `json:"signature_verified" gorm:"not null;default:false"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "payment_events" }

// Family splits gateway notifications into order and refund lifecycles.
type Family string

const (
	FamilyOrder  Family = "order"
	FamilyRefund Family = "refund"
)

// GatewayEvent is the canonical notification parsed by adapters.
type GatewayEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	Family          Family
	OrderID         string
	GatewayOrderID  string
	Status          string
	RefundID        string
	RawPayload      []byte
}

// Verification describes how a delivery was authenticated.
type Verification struct {
	Verified bool
	Bypassed bool
}
