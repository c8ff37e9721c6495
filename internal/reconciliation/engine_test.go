package reconciliation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/clock"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/invoicepay/internal/invoice/repository"
	"github.com/smallbiznis/invoicepay/internal/migration"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/invoicepay/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:reconcile_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return &fixture{
		db:    conn,
		node:  node,
		clock: fake,
		engine: NewEngine(Params{
			DB:       conn,
			Log:      zap.NewNop(),
			Clock:    fake,
			Payments: paymentrepo.Provide(),
			Invoices: invoicerepo.Provide(),
		}),
	}
}

func (f *fixture) seedInvoice(t *testing.T, number string, status invoicedomain.Status, paymentID *string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&invoicedomain.Invoice{
		ID:            f.node.Generate(),
		InvoiceNumber: number,
		Date:          datatypes.Date(now),
		DueDate:       datatypes.Date(now),
		ClientName:    "Acme",
		ClientEmail:   "billing@acme.test",
		Items: datatypes.NewJSONSlice([]invoicedomain.LineItem{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("250.50"),
		}}),
		Subtotal:  decimal.RequireFromString("250.50"),
		Total:     decimal.RequireFromString("250.50"),
		Status:    status,
		PaymentID: paymentID,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
}

func (f *fixture) seedPayment(t *testing.T, orderID, gatewayOrderID string, status paymentdomain.Status) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&paymentdomain.Payment{
		ID:             f.node.Generate(),
		OrderID:        orderID,
		GatewayOrderID: gatewayOrderID,
		InvoiceNumber:  DeriveInvoiceNumber(orderID),
		Amount:         decimal.RequireFromString("250.50"),
		Currency:       "INR",
		Status:         status,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}).Error)
}

func (f *fixture) payment(t *testing.T, orderID string) paymentdomain.Payment {
	t.Helper()
	var p paymentdomain.Payment
	require.NoError(t, f.db.Where("order_id = ?", orderID).First(&p).Error)
	return p
}

func (f *fixture) invoice(t *testing.T, number string) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, f.db.Where("invoice_number = ?", number).First(&inv).Error)
	return inv
}

func orderEvent(orderID, status string) paymentdomain.GatewayEvent {
	return paymentdomain.GatewayEvent{
		Provider: "cashfree",
		Type:     "PAYMENT_SUCCESS_WEBHOOK",
		Family:   paymentdomain.FamilyOrder,
		OrderID:  orderID,
		Status:   status,
	}
}

func TestApplyOrderSuccessMarksInvoicePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedInvoice(t, "INV-5", invoicedomain.StatusCreated, nil)
	f.seedPayment(t, "INV-5-1700000000000", "2149460581", paymentdomain.StatusPending)

	out := f.engine.Apply(ctx, orderEvent("INV-5-1700000000000", "success"))
	assert.Equal(t, paymentdomain.StatusSuccess, out.Status)
	assert.EqualValues(t, 1, out.PaymentRows)
	assert.True(t, out.InvoiceUpdated)
	assert.NoError(t, out.PaymentErr)

	p := f.payment(t, "INV-5-1700000000000")
	assert.Equal(t, paymentdomain.StatusSuccess, p.Status)
	assert.EqualValues(t, 2, p.Version)

	inv := f.invoice(t, "INV-5")
	assert.Equal(t, invoicedomain.StatusPaid, inv.Status)
	assert.Equal(t, "INV-5-1700000000000", inv.CurrentPaymentID())
}

func TestApplyReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedInvoice(t, "INV-5", invoicedomain.StatusCreated, nil)
	f.seedPayment(t, "INV-5-1700000000000", "", paymentdomain.StatusPending)

	event := orderEvent("INV-5-1700000000000", "PAID")
	f.engine.Apply(ctx, event)
	firstPayment := f.payment(t, "INV-5-1700000000000")
	firstInvoice := f.invoice(t, "INV-5")

	second := f.engine.Apply(ctx, event)
	assert.EqualValues(t, 0, second.PaymentRows)
	assert.False(t, second.PaymentStale)
	assert.False(t, second.InvoiceUpdated)

	assert.Equal(t, firstPayment, f.payment(t, "INV-5-1700000000000"))
	assert.Equal(t, firstInvoice, f.invoice(t, "INV-5"))
}

func TestApplyFallsBackToGatewayOrderID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedInvoice(t, "INV-7", invoicedomain.StatusCreated, nil)
	f.seedPayment(t, "INV-7-1700000000000", "555", paymentdomain.StatusPending)

	event := orderEvent("unknown-order", "PAID")
	event.GatewayOrderID = "555"
	out := f.engine.Apply(ctx, event)

	assert.True(t, out.UsedFallback)
	assert.EqualValues(t, 1, out.PaymentRows)
	assert.Equal(t, paymentdomain.StatusPaid, f.payment(t, "INV-7-1700000000000").Status)

	inv := f.invoice(t, "INV-7")
	assert.Equal(t, invoicedomain.StatusPaid, inv.Status)
	assert.Equal(t, "INV-7-1700000000000", inv.CurrentPaymentID())
}

func TestApplyIgnoresEventsMissingDetails(t *testing.T) {
	f := newFixture(t)
	out := f.engine.Apply(context.Background(), orderEvent("INV-1-1", ""))
	assert.True(t, out.Skipped)

	out = f.engine.Apply(context.Background(), paymentdomain.GatewayEvent{Family: paymentdomain.FamilyRefund, Status: "SUCCESS"})
	assert.True(t, out.Skipped)
}

func TestApplyRefundOutcomes(t *testing.T) {
	tests := []struct {
		refundStatus  string
		wantPayment   paymentdomain.Status
		wantInvoice   invoicedomain.Status
		invoiceChange bool
	}{
		{"SUCCESS", paymentdomain.StatusRefunded, invoicedomain.StatusRefunded, true},
		{"FAILED", paymentdomain.StatusRefundFailed, invoicedomain.StatusRefundFailed, true},
		{"CANCELLED", paymentdomain.StatusRefundFailed, invoicedomain.StatusRefundFailed, true},
		{"PENDING", paymentdomain.StatusRefundProcessing, invoicedomain.StatusRefundInitiating, false},
	}

	for _, tt := range tests {
		t.Run(tt.refundStatus, func(t *testing.T) {
			f := newFixture(t)
			orderID := "INV-9-1700000000000"
			f.seedInvoice(t, "INV-9", invoicedomain.StatusRefundInitiating, &orderID)
			f.seedPayment(t, orderID, "", paymentdomain.StatusRefundInitiated)

			out := f.engine.Apply(context.Background(), paymentdomain.GatewayEvent{
				Type:    "REFUND_STATUS_WEBHOOK",
				Family:  paymentdomain.FamilyRefund,
				OrderID: orderID,
				Status:  tt.refundStatus,
			})
			assert.Equal(t, tt.wantPayment, out.Status)
			assert.Equal(t, tt.invoiceChange, out.InvoiceUpdated)
			assert.Equal(t, tt.wantPayment, f.payment(t, orderID).Status)
			assert.Equal(t, tt.wantInvoice, f.invoice(t, "INV-9").Status)
		})
	}
}

func TestApplyNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	orderID := "INV-3-1700000000000"
	f.seedInvoice(t, "INV-3", invoicedomain.StatusRefunded, &orderID)
	f.seedPayment(t, orderID, "", paymentdomain.StatusRefunded)

	out := f.engine.Apply(context.Background(), orderEvent(orderID, "PAID"))
	assert.True(t, out.PaymentStale)
	assert.False(t, out.InvoiceUpdated)
	assert.Equal(t, paymentdomain.StatusRefunded, f.payment(t, orderID).Status)
	assert.Equal(t, invoicedomain.StatusRefunded, f.invoice(t, "INV-3").Status)
}

func TestApplyOlderAttemptDoesNotOverwriteInvoice(t *testing.T) {
	f := newFixture(t)
	newer := "INV-4-1700000005000"
	older := "INV-4-1700000000000"
	f.seedInvoice(t, "INV-4", invoicedomain.StatusPaid, &newer)
	f.seedPayment(t, newer, "", paymentdomain.StatusPaid)
	f.seedPayment(t, older, "", paymentdomain.StatusPending)

	out := f.engine.Apply(context.Background(), orderEvent(older, "PAID"))
	assert.EqualValues(t, 1, out.PaymentRows)
	assert.False(t, out.InvoiceUpdated)
	assert.Equal(t, newer, f.invoice(t, "INV-4").CurrentPaymentID())
}

func TestApplyMissingInvoiceIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, "ORPHAN-1700000000000", "", paymentdomain.StatusPending)

	out := f.engine.Apply(context.Background(), orderEvent("ORPHAN-1700000000000", "PAID"))
	assert.NoError(t, out.PaymentErr)
	assert.ErrorIs(t, out.InvoiceErr, ErrInvoiceNotFound)
	assert.Equal(t, paymentdomain.StatusPaid, f.payment(t, "ORPHAN-1700000000000").Status)
}

func TestApplyPollOnlyPaidSettlesInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedInvoice(t, "INV-8", invoicedomain.StatusCreated, nil)
	f.seedPayment(t, "INV-8-1700000000000", "", paymentdomain.StatusPending)

	out := f.engine.ApplyPoll(ctx, "INV-8-1700000000000", "ACTIVE")
	assert.False(t, out.InvoiceUpdated)
	assert.Equal(t, paymentdomain.StatusActive, f.payment(t, "INV-8-1700000000000").Status)
	assert.Equal(t, invoicedomain.StatusCreated, f.invoice(t, "INV-8").Status)

	out = f.engine.ApplyPoll(ctx, "INV-8-1700000000000", "PAID")
	assert.True(t, out.InvoiceUpdated)
	assert.Equal(t, invoicedomain.StatusPaid, f.invoice(t, "INV-8").Status)
}

func TestApplyRefundInitiated(t *testing.T) {
	f := newFixture(t)
	orderID := "INV-2-1700000000000"
	f.seedInvoice(t, "INV-2", invoicedomain.StatusPaid, &orderID)
	f.seedPayment(t, orderID, "", paymentdomain.StatusPaid)

	out := f.engine.ApplyRefundInitiated(context.Background(), orderID)
	assert.True(t, out.InvoiceUpdated)
	assert.Equal(t, paymentdomain.StatusRefundInitiated, f.payment(t, orderID).Status)

	inv := f.invoice(t, "INV-2")
	assert.Equal(t, invoicedomain.StatusRefundInitiating, inv.Status)
	assert.Equal(t, orderID, inv.CurrentPaymentID())
}

func TestRefundRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := "INV-12-1700000000000"
	f.seedInvoice(t, "INV-12", invoicedomain.StatusPaid, &orderID)
	f.seedPayment(t, orderID, "", paymentdomain.StatusPaid)

	refundEvent := func(status string) paymentdomain.GatewayEvent {
		return paymentdomain.GatewayEvent{
			Type:    "REFUND_STATUS_WEBHOOK",
			Family:  paymentdomain.FamilyRefund,
			OrderID: orderID,
			Status:  status,
		}
	}

	f.engine.ApplyRefundInitiated(ctx, orderID)
	f.engine.Apply(ctx, refundEvent("FAILED"))
	require.Equal(t, paymentdomain.StatusRefundFailed, f.payment(t, orderID).Status)
	require.Equal(t, invoicedomain.StatusRefundFailed, f.invoice(t, "INV-12").Status)

	out := f.engine.ApplyRefundInitiated(ctx, orderID)
	assert.False(t, out.PaymentStale)
	assert.EqualValues(t, 1, out.PaymentRows)
	assert.True(t, out.InvoiceUpdated)
	assert.Equal(t, paymentdomain.StatusRefundInitiated, f.payment(t, orderID).Status)
	assert.Equal(t, invoicedomain.StatusRefundInitiating, f.invoice(t, "INV-12").Status)

	f.engine.Apply(ctx, refundEvent("PENDING"))
	assert.Equal(t, paymentdomain.StatusRefundProcessing, f.payment(t, orderID).Status)

	f.engine.Apply(ctx, refundEvent("SUCCESS"))
	assert.Equal(t, paymentdomain.StatusRefunded, f.payment(t, orderID).Status)
	assert.Equal(t, invoicedomain.StatusRefunded, f.invoice(t, "INV-12").Status)
}

func TestRefundInitiatedDoesNotReopenRefunded(t *testing.T) {
	f := newFixture(t)
	orderID := "INV-13-1700000000000"
	f.seedInvoice(t, "INV-13", invoicedomain.StatusRefunded, &orderID)
	f.seedPayment(t, orderID, "", paymentdomain.StatusRefunded)

	out := f.engine.ApplyRefundInitiated(context.Background(), orderID)
	assert.True(t, out.PaymentStale)
	assert.False(t, out.InvoiceUpdated)
	assert.Equal(t, paymentdomain.StatusRefunded, f.payment(t, orderID).Status)
	assert.Equal(t, invoicedomain.StatusRefunded, f.invoice(t, "INV-13").Status)
}

func TestWritesStampClockTime(t *testing.T) {
	f := newFixture(t)
	orderID := "INV-14-1700000000000"
	f.seedInvoice(t, "INV-14", invoicedomain.StatusCreated, nil)
	f.seedPayment(t, orderID, "", paymentdomain.StatusPending)
	f.clock.Advance(time.Hour)

	f.engine.ApplyPoll(context.Background(), orderID, "PAID")
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(f.payment(t, orderID).UpdatedAt))
	assert.True(t, want.Equal(f.invoice(t, "INV-14").UpdatedAt))
}

type racingRepo struct {
	paymentdomain.Repository
}

func (racingRepo) CompareAndSetStatus(context.Context, *gorm.DB, snowflake.ID, int64, paymentdomain.Status, time.Time) (int64, error) {
	return 0, nil
}

func TestWritePaymentGivesUpAfterLostRaces(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, "INV-6-1700000000000", "", paymentdomain.StatusPending)
	f.engine.payments = racingRepo{Repository: paymentrepo.Provide()}

	out := f.engine.ApplyPoll(context.Background(), "INV-6-1700000000000", "PAID")
	assert.ErrorIs(t, out.PaymentErr, paymentdomain.ErrConcurrentUpdate)
}
