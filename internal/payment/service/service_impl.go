package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/reconciliation"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCurrency      = "INR"
	defaultCustomerPhone = "9999999999"
	maxCustomerIDLength  = 64
	maxRefundIDLength    = 64
)

var customerIDDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Gateway    paymentdomain.Gateway
	Repo       paymentdomain.Repository
	Invoices   invoicedomain.Repository
	Engine     *reconciliation.Engine
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	frontendURL string
	gateway     paymentdomain.Gateway
	repo        paymentdomain.Repository
	invoices    invoicedomain.Repository
	engine      *reconciliation.Engine
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		frontendURL: p.Config.FrontendURL,
		gateway:     p.Gateway,
		repo:        p.Repo,
		invoices:    p.Invoices,
		engine:      p.Engine,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.CreateOrderResponse, error) {
	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if invoiceNumber == "" {
		return nil, paymentdomain.ErrInvalidInvoiceNumber
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if !s.gateway.Configured() {
		s.obsMetrics.RecordOrderCreated(ctx, "not_configured")
		return nil, gateway.ErrNotConfigured
	}

	now := s.clock.Now()
	orderID := fmt.Sprintf("%s-%d", invoiceNumber, now.UnixMilli())
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	phone := strings.TrimSpace(req.ClientPhone)
	if phone == "" {
		phone = defaultCustomerPhone
	}
	email := strings.TrimSpace(req.ClientEmail)

	log := logger.WithOrder(logger.WithContext(ctx, s.log), orderID)

	order, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		OrderID:       orderID,
		OrderAmount:   gateway.AmountNumber(req.Amount.StringFixed(2)),
		OrderCurrency: currency,
		CustomerDetails: gateway.CustomerDetails{
			CustomerID:    SanitizeCustomerID(email, invoiceNumber),
			CustomerEmail: email,
			CustomerName:  strings.TrimSpace(req.ClientName),
			CustomerPhone: phone,
		},
		OrderMeta: gateway.OrderMeta{
			ReturnURL: ReturnURL(s.frontendURL),
		},
	})
	if err != nil {
		s.obsMetrics.RecordOrderCreated(ctx, "gateway_error")
		log.Error("create gateway order failed", zap.Error(err))
		return nil, err
	}

	if order.OrderID != "" {
		orderID = order.OrderID
	}
	payment := &paymentdomain.Payment{
		ID:               s.genID.Generate(),
		OrderID:          orderID,
		GatewayOrderID:   order.CFOrderID.String(),
		InvoiceNumber:    invoiceNumber,
		Amount:           req.Amount,
		Currency:         currency,
		CustomerEmail:    email,
		CustomerPhone:    phone,
		PaymentSessionID: order.PaymentSessionID,
		Status:           paymentdomain.StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		s.obsMetrics.RecordOrderCreated(ctx, "store_error")
		if db.IsDuplicateKeyErr(err) {
			return nil, paymentdomain.ErrDuplicateOrder
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	s.obsMetrics.RecordOrderCreated(ctx, "created")
	log.Info("gateway order created",
		zap.String("gateway_order_id", payment.GatewayOrderID),
		zap.String("invoice_number", invoiceNumber),
	)

	return &paymentdomain.CreateOrderResponse{
		CFOrderID:        payment.GatewayOrderID,
		OrderID:          payment.OrderID,
		PaymentSessionID: payment.PaymentSessionID,
		Env:              s.gateway.Env(),
	}, nil
}

func (s *Service) VerifyPayment(ctx context.Context, orderID string) (*paymentdomain.VerifyPaymentResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}

	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	outcome := s.engine.ApplyPoll(ctx, orderID, order.OrderStatus)
	if outcome.PaymentErr != nil {
		return nil, fmt.Errorf("persist payment status: %w", outcome.PaymentErr)
	}

	return &paymentdomain.VerifyPaymentResponse{
		Success: paymentdomain.NormalizeStatus(order.OrderStatus) == paymentdomain.StatusPaid,
		Status:  order.OrderStatus,
	}, nil
}

func (s *Service) InitiateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResponse, error) {
	orderID, discovered, err := s.resolveRefundTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, paymentdomain.ErrRefundTargetNotFound
	}
	if !s.gateway.Configured() {
		s.obsMetrics.RecordRefund(ctx, "not_configured")
		return nil, gateway.ErrNotConfigured
	}

	amount, err := s.resolveRefundAmount(ctx, orderID, req.Amount, discovered)
	if err != nil {
		return nil, err
	}

	refundID := fmt.Sprintf("refund_%s_%d", orderID, s.clock.Now().UnixMilli())
	if len(refundID) > maxRefundIDLength {
		refundID = refundID[:maxRefundIDLength]
	}

	log := logger.WithOrder(logger.WithContext(ctx, s.log), orderID)
	refund, err := s.gateway.CreateRefund(ctx, orderID, gateway.RefundRequest{
		RefundAmount: gateway.AmountNumber(amount.String()),
		RefundID:     refundID,
		RefundSpeed:  gateway.RefundSpeedStandard,
	})
	if err != nil {
		s.obsMetrics.RecordRefund(ctx, "gateway_error")
		log.Error("refund initiation failed", zap.Error(err))
		return nil, err
	}
	log.Info("refund initiated",
		zap.String("refund_id", refundID),
		zap.String("refund_amount", amount.String()),
	)

	s.engine.ApplyRefundInitiated(ctx, orderID)
	s.obsMetrics.RecordRefund(ctx, "initiated")

	return &paymentdomain.RefundResponse{
		Success:  true,
		RefundID: refundID,
		Cashfree: refund.Raw,
	}, nil
}

// resolveRefundTarget finds the order to refund: explicit id, then the invoice's linked
// payment, then the newest attempt for the invoice. The newest attempt also yields its amount.
func (s *Service) resolveRefundTarget(ctx context.Context, req paymentdomain.RefundRequest) (string, *decimal.Decimal, error) {
	if orderID := strings.TrimSpace(req.OrderID); orderID != "" {
		return orderID, nil, nil
	}

	invoiceNumber := strings.TrimSpace(req.InvoiceNumber)
	if invoiceNumber == "" {
		invoiceNumber = strings.TrimSpace(req.InvoiceNumberCamel)
	}
	if invoiceNumber == "" {
		return "", nil, nil
	}

	invoice, err := s.invoices.FindByNumber(ctx, s.db, invoiceNumber)
	if err != nil {
		s.log.Warn("refund invoice lookup failed", zap.String("invoice_number", invoiceNumber), zap.Error(err))
	} else if invoice != nil && invoice.CurrentPaymentID() != "" {
		return invoice.CurrentPaymentID(), nil, nil
	}

	latest, err := s.repo.FindLatestByInvoicePrefix(ctx, s.db, invoiceNumber)
	if err != nil {
		s.log.Warn("refund payment lookup failed", zap.String("invoice_number", invoiceNumber), zap.Error(err))
		return "", nil, nil
	}
	if latest == nil {
		return "", nil, nil
	}
	amount := latest.Amount
	return latest.OrderID, &amount, nil
}

func (s *Service) resolveRefundAmount(ctx context.Context, orderID string, raw json.RawMessage, discovered *decimal.Decimal) (decimal.Decimal, error) {
	amount, ok := parseLooseAmount(raw)
	if !ok && discovered != nil && !discovered.IsZero() {
		amount, ok = *discovered, true
	}
	if !ok {
		payment, err := s.repo.FindByOrderID(ctx, s.db, orderID)
		if err != nil {
			s.log.Warn("refund amount lookup failed", zap.String("order_id", orderID), zap.Error(err))
		} else if payment != nil && !payment.Amount.IsZero() {
			amount, ok = payment.Amount, true
		}
	}
	if !ok {
		return decimal.Zero, paymentdomain.ErrRefundAmountNotFound
	}
	if !amount.IsPositive() {
		return decimal.Zero, paymentdomain.ErrRefundAmountNotPositive
	}
	return amount, nil
}

// parseLooseAmount accepts a JSON number or numeric string. Zero counts as absent.
func parseLooseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, false
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, false
		}
	} else {
		text = string(raw)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil || amount.IsZero() {
		return decimal.Zero, false
	}
	return amount, true
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*paymentdomain.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}
	payment, err := s.repo.FindByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) ListPendingForReconcile(ctx context.Context, maxAge time.Duration, limit int) ([]paymentdomain.Payment, error) {
	if limit <= 0 {
		return nil, nil
	}
	since := s.clock.Now().Add(-maxAge)
	items, err := s.repo.ListPending(ctx, s.db, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	return items, nil
}

// SanitizeCustomerID builds the gateway customer id from the first non-empty candidate.
func SanitizeCustomerID(candidates ...string) string {
	value := "cust"
	for _, candidate := range candidates {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			value = candidate
			break
		}
	}
	value = customerIDDisallowed.ReplaceAllString(value, "_")
	if len(value) > maxCustomerIDLength {
		value = value[:maxCustomerIDLength]
	}
	return value
}

// ReturnURL keeps {order_id} literal; the gateway substitutes it on redirect.
func ReturnURL(frontendURL string) string {
	base := strings.TrimSpace(frontendURL)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "payment-success?order_id={order_id}"
}
