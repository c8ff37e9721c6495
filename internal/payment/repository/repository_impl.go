package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, order_id, gateway_order_id, invoice_number, amount, currency,
	customer_email, customer_phone, payment_session_id, status, version,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = ?
		 LIMIT 1`,
		orderID,
	)
}

func (r *repo) FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE gateway_order_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		gatewayOrderID,
	)
}

func (r *repo) FindLatestByInvoicePrefix(ctx context.Context, conn *gorm.DB, invoiceNumber string) (*domain.Payment, error) {
	return r.findOne(ctx, conn,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id LIKE ? ESCAPE '`+db.LikeEscape+`'
		 ORDER BY order_id DESC
		 LIMIT 1`,
		db.EscapeLike(invoiceNumber)+"-%",
	)
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, status domain.Status, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		status,
		updatedAt.UTC(),
		id,
		version,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status IN (?, ?) AND created_at >= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusPending,
		domain.StatusActive,
		since,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, order_id,
			payload, signature_verified, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
