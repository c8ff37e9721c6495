package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)
	FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*Payment, error)

	// FindLatestByInvoicePrefix returns the attempt with the greatest order id starting with "{invoiceNumber}-".
	FindLatestByInvoicePrefix(ctx context.Context, db *gorm.DB, invoiceNumber string) (*Payment, error)

	// CompareAndSetStatus writes status and bumps version only if the row is still at version.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, status Status, updatedAt time.Time) (int64, error)

	ListPending(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]Payment, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
