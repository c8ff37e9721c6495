package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, invoice_number, date, due_date, client_name, client_email,
	client_phone, client_address, items, tax_rate, subtotal, tax, total, status,
	payment_id, created_at, updated_at
 FROM invoices`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindByNumber(ctx context.Context, db *gorm.DB, invoiceNumber string) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE invoice_number = ? LIMIT 1`,
		invoiceNumber,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByEmail(ctx context.Context, db *gorm.DB, email string) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := db.WithContext(ctx).Raw(
		selectColumns+` WHERE client_email = ? ORDER BY created_at DESC, id DESC`,
		email,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, invoiceNumber string, status domain.Status, paymentID *string, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, payment_id = ?, updated_at = ?
		 WHERE invoice_number = ?`,
		status,
		paymentID,
		updatedAt.UTC(),
		invoiceNumber,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, invoiceNumber string, observed domain.Invoice, status domain.Status, paymentID *string, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, payment_id = ?, updated_at = ?
		 WHERE invoice_number = ? AND status = ? AND COALESCE(payment_id, '') = ?`,
		status,
		paymentID,
		updatedAt.UTC(),
		invoiceNumber,
		string(observed.Status),
		observed.CurrentPaymentID(),
	)
	return res.RowsAffected, res.Error
}
