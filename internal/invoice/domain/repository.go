package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByNumber(ctx context.Context, db *gorm.DB, invoiceNumber string) (*Invoice, error)
	ListByEmail(ctx context.Context, db *gorm.DB, email string) ([]Invoice, error)

	// SetStatus overwrites status and payment_id unconditionally.
	SetStatus(ctx context.Context, db *gorm.DB, invoiceNumber string, status Status, paymentID *string, updatedAt time.Time) (int64, error)

	// CompareAndSetStatus writes only when the row still holds the observed status and payment_id.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, invoiceNumber string, observed Invoice, status Status, paymentID *string, updatedAt time.Time) (int64, error)
}
