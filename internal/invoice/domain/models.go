// Package domain contains persistence models for invoicing.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusPaid             Status = "PAID"
	StatusRefundInitiating Status = "REFUND_INITIATING"
	StatusRefunded         Status = "REFUNDED"
	StatusRefundFailed     Status = "REFUND_FAILED"
)

// NormalizeStatus upper-cases and trims a status read from the wire or the store.
func NormalizeStatus(value string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(value)))
}

// LineItem is one billed line. The frontend sends "price"; "unit_price" is canonical.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l *LineItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Description string           `json:"description"`
		Quantity    decimal.Decimal  `json:"quantity"`
		UnitPrice   *decimal.Decimal `json:"unit_price"`
		Price       *decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Description = raw.Description
	l.Quantity = raw.Quantity
	switch {
	case raw.UnitPrice != nil:
		l.UnitPrice = *raw.UnitPrice
	case raw.Price != nil:
		l.UnitPrice = *raw.Price
	default:
		l.UnitPrice = decimal.Zero
	}
	return nil
}

// Amount is quantity times unit price.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Invoice is a billable document addressed to one client. Rows are never deleted.
type Invoice struct {
	ID            snowflake.ID                  `json:"id" gorm:"primaryKey"`
	InvoiceNumber string                        `json:"invoice_number" gorm:"type:varchar(191);not null;uniqueIndex:ux_invoices_invoice_number"`
	Date          datatypes.Date                `json:"date" gorm:"not null"`
	DueDate       datatypes.Date                `json:"due_date" gorm:"not null"`
	ClientName    string                        `json:"client_name" gorm:"type:text;not null"`
	ClientEmail   string                        `json:"client_email" gorm:"type:varchar(255);not null;index"`
	ClientPhone   string                        `json:"client_phone" gorm:"type:varchar(64);not null;default:''"`
	ClientAddress string                        `json:"client_address" gorm:"type:varchar(1024);not null;default:''"`
	Items         datatypes.JSONSlice[LineItem] `json:"items" gorm:"not null"`
	TaxRate       decimal.Decimal               `json:"tax_rate" gorm:"type:numeric(7,4);not null;default:0"`
	Subtotal      decimal.Decimal               `json:"subtotal" gorm:"type:numeric(14,2);not null;default:0"`
	Tax           decimal.Decimal               `json:"tax" gorm:"type:numeric(14,2);not null;default:0"`
	Total         decimal.Decimal               `json:"total" gorm:"type:numeric(14,2);not null;default:0"`
	Status        Status                        `json:"status" gorm:"type:varchar(32);not null;default:'CREATED'"`
	PaymentID     *string                       `json:"payment_id" gorm:"type:varchar(191)"`
	CreatedAt     time.Time                     `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time                     `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// CurrentPaymentID returns the linked order id or "".
func (i Invoice) CurrentPaymentID() string {
	if i.PaymentID == nil {
		return ""
	}
	return *i.PaymentID
}
