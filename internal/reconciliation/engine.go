package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/invoicepay/internal/clock"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWriteAttempts = 3

// Source names the path a status change arrived on.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceRefund  Source = "refund"
)

var ErrInvoiceNotFound = errors.New("invoice_not_found")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Payments   paymentdomain.Repository
	Invoices   invoicedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Engine struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	payments   paymentdomain.Repository
	invoices   invoicedomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:         p.DB,
		log:        p.Log.Named("reconciliation"),
		clock:      p.Clock,
		payments:   p.Payments,
		invoices:   p.Invoices,
		obsMetrics: p.ObsMetrics,
	}
}

// Outcome describes what a single reconciliation did.
type Outcome struct {
	Source         Source
	Family         paymentdomain.Family
	OrderID        string
	Status         paymentdomain.Status
	Skipped        bool
	PaymentFound   bool
	PaymentRows    int64
	PaymentStale   bool
	UsedFallback   bool
	InvoiceNumber  string
	InvoiceUpdated bool
	PaymentErr     error
	InvoiceErr     error
}

// Apply reconciles a parsed webhook notification. Errors never escape: the caller
// acknowledges an authenticated delivery regardless, and failures land in the Outcome.
func (e *Engine) Apply(ctx context.Context, event paymentdomain.GatewayEvent) Outcome {
	out := Outcome{
		Source:  SourceWebhook,
		Family:  event.Family,
		OrderID: strings.TrimSpace(event.OrderID),
	}
	log := logger.WithOrder(logger.WithContext(ctx, e.log), out.OrderID).With(
		zap.String("family", string(event.Family)),
		zap.String("event_type", event.Type),
	)

	if event.Family == paymentdomain.FamilyRefund {
		out.Status = MapRefundStatus(event.Status)
		if out.OrderID == "" {
			log.Warn("refund notification without order id")
			out.Skipped = true
			return e.finish(ctx, out)
		}
	} else {
		out.Family = paymentdomain.FamilyOrder
		out.Status = paymentdomain.NormalizeStatus(event.Status)
		if out.OrderID == "" || out.Status == "" {
			log.Warn("order notification missing order details",
				zap.String("status", string(out.Status)),
			)
			out.Skipped = true
			return e.finish(ctx, out)
		}
	}

	payment := e.updatePayment(ctx, log, &out, strings.TrimSpace(event.GatewayOrderID))

	switch {
	case out.Family == paymentdomain.FamilyOrder && IsOrderSuccess(out.Status):
		e.updateInvoice(ctx, log, &out, payment, invoicedomain.StatusPaid, true)
	case out.Status == paymentdomain.StatusRefunded:
		e.updateInvoice(ctx, log, &out, payment, invoicedomain.StatusRefunded, false)
	case out.Status == paymentdomain.StatusRefundFailed:
		e.updateInvoice(ctx, log, &out, payment, invoicedomain.StatusRefundFailed, false)
	}
	return e.finish(ctx, out)
}

// ApplyPoll persists a status read back from the gateway. Only PAID settles the invoice.
func (e *Engine) ApplyPoll(ctx context.Context, orderID string, status string) Outcome {
	out := Outcome{
		Source:  SourcePoll,
		Family:  paymentdomain.FamilyOrder,
		OrderID: strings.TrimSpace(orderID),
		Status:  paymentdomain.NormalizeStatus(status),
	}
	log := logger.WithOrder(logger.WithContext(ctx, e.log), out.OrderID)
	if out.OrderID == "" || out.Status == "" {
		out.Skipped = true
		return e.finish(ctx, out)
	}

	payment := e.updatePayment(ctx, log, &out, "")
	if out.Status == paymentdomain.StatusPaid {
		e.updateInvoice(ctx, log, &out, payment, invoicedomain.StatusPaid, true)
	}
	return e.finish(ctx, out)
}

// ApplyRefundInitiated records a refund request accepted by the gateway.
func (e *Engine) ApplyRefundInitiated(ctx context.Context, orderID string) Outcome {
	out := Outcome{
		Source:  SourceRefund,
		Family:  paymentdomain.FamilyRefund,
		OrderID: strings.TrimSpace(orderID),
		Status:  paymentdomain.StatusRefundInitiated,
	}
	log := logger.WithOrder(logger.WithContext(ctx, e.log), out.OrderID)

	payment := e.updatePayment(ctx, log, &out, "")
	e.updateInvoice(ctx, log, &out, payment, invoicedomain.StatusRefundInitiating, false)
	return e.finish(ctx, out)
}

func (e *Engine) finish(ctx context.Context, out Outcome) Outcome {
	status := string(out.Status)
	if out.Skipped {
		status = "skipped"
	}
	e.obsMetrics.RecordReconciliation(ctx, string(out.Source), string(out.Family), status)
	return out
}

func (e *Engine) updatePayment(ctx context.Context, log *zap.Logger, out *Outcome, gatewayOrderID string) *paymentdomain.Payment {
	res, err := e.writePayment(ctx, out.Status, func() (*paymentdomain.Payment, error) {
		return e.payments.FindByOrderID(ctx, e.db, out.OrderID)
	})
	if err == nil && res.payment == nil && gatewayOrderID != "" {
		out.UsedFallback = true
		log.Warn("no payment row for order id, retrying by gateway order id",
			zap.String("gateway_order_id", gatewayOrderID),
		)
		res, err = e.writePayment(ctx, out.Status, func() (*paymentdomain.Payment, error) {
			return e.payments.FindByGatewayOrderID(ctx, e.db, gatewayOrderID)
		})
	}

	out.PaymentRows = res.rows
	out.PaymentFound = res.payment != nil
	out.PaymentStale = res.stale
	if err != nil {
		out.PaymentErr = err
		log.Error("payment status update failed", zap.Error(err))
		return res.payment
	}
	switch {
	case res.payment == nil:
		log.Warn("no payment row updated")
	case res.stale:
		log.Info("stale payment status ignored",
			zap.String("current_status", string(res.payment.Status)),
			zap.String("incoming_status", string(out.Status)),
		)
	case res.rows > 0:
		log.Info("payment status updated", zap.String("status", string(out.Status)))
	}
	return res.payment
}

type paymentWrite struct {
	payment *paymentdomain.Payment
	rows    int64
	stale   bool
}

// writePayment applies status under the rank guard with optimistic concurrency on version.
// A nil payment with nil error means no row matched. Re-applying the current status is a no-op.
func (e *Engine) writePayment(
	ctx context.Context,
	status paymentdomain.Status,
	find func() (*paymentdomain.Payment, error),
) (paymentWrite, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := find()
		if err != nil {
			return paymentWrite{}, err
		}
		if current == nil {
			return paymentWrite{}, nil
		}
		if paymentdomain.NormalizeStatus(string(current.Status)) == status {
			return paymentWrite{payment: current}, nil
		}
		if !PaymentAdvances(current.Status, status) {
			return paymentWrite{payment: current, stale: true}, nil
		}

		rows, err := e.payments.CompareAndSetStatus(ctx, e.db, current.ID, current.Version, status, e.clock.Now())
		if err != nil {
			return paymentWrite{payment: current}, err
		}
		if rows > 0 {
			current.Status = status
			current.Version++
			return paymentWrite{payment: current, rows: rows}, nil
		}
	}
	return paymentWrite{}, paymentdomain.ErrConcurrentUpdate
}

func (e *Engine) updateInvoice(
	ctx context.Context,
	log *zap.Logger,
	out *Outcome,
	payment *paymentdomain.Payment,
	status invoicedomain.Status,
	linkPayment bool,
) {
	orderID := out.OrderID
	invoiceNumber := DeriveInvoiceNumber(orderID)
	if payment != nil {
		orderID = payment.OrderID
		if payment.InvoiceNumber != "" {
			invoiceNumber = payment.InvoiceNumber
		}
	}
	out.InvoiceNumber = invoiceNumber
	log = log.With(zap.String("invoice_number", invoiceNumber))

	updated, err := e.writeInvoice(ctx, invoiceNumber, orderID, status, linkPayment)
	if err != nil {
		// Secondary record: logged, never escalated.
		out.InvoiceErr = err
		log.Warn("could not update invoice status", zap.String("status", string(status)), zap.Error(err))
		return
	}
	out.InvoiceUpdated = updated
	if updated {
		log.Info("invoice status updated", zap.String("status", string(status)))
	}
}

func (e *Engine) writeInvoice(
	ctx context.Context,
	invoiceNumber string,
	orderID string,
	status invoicedomain.Status,
	linkPayment bool,
) (bool, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := e.invoices.FindByNumber(ctx, e.db, invoiceNumber)
		if err != nil {
			return false, err
		}
		if current == nil {
			return false, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceNumber)
		}
		if !shouldApplyInvoice(*current, status, orderID) {
			return false, nil
		}

		paymentID := current.PaymentID
		if linkPayment || paymentID == nil {
			paymentID = &orderID
		}
		if invoicedomain.NormalizeStatus(string(current.Status)) == status && current.CurrentPaymentID() == *paymentID {
			return false, nil
		}
		rows, err := e.invoices.CompareAndSetStatus(ctx, e.db, invoiceNumber, *current, status, paymentID, e.clock.Now())
		if err != nil {
			return false, err
		}
		if rows > 0 {
			return true, nil
		}
	}
	return false, paymentdomain.ErrConcurrentUpdate
}

// shouldApplyInvoice decides whether an event about orderID may overwrite the invoice.
// Events about the linked attempt follow the rank order; a newer attempt supersedes the
// linked one and an older attempt never does.
func shouldApplyInvoice(current invoicedomain.Invoice, next invoicedomain.Status, orderID string) bool {
	linked := current.CurrentPaymentID()
	if linked != "" && orderID != "" && linked != orderID {
		incoming, okIncoming := attemptMillis(orderID)
		existing, okExisting := attemptMillis(linked)
		if okIncoming && okExisting && incoming != existing {
			return incoming > existing
		}
	}
	return InvoiceAdvances(current.Status, next)
}
