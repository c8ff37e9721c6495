package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/invoicepay/internal/invoice/repository"
	"github.com/smallbiznis/invoicepay/internal/migration"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/invoicepay/internal/payment/repository"
	"github.com/smallbiznis/invoicepay/internal/reconciliation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type mockGateway struct {
	mock.Mock
	configured bool
}

func (m *mockGateway) Configured() bool { return m.configured }
func (m *mockGateway) Env() string      { return config.GatewayEnvSandbox }

func (m *mockGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	args := m.Called(ctx, req)
	order, _ := args.Get(0).(*gateway.Order)
	return order, args.Error(1)
}

func (m *mockGateway) GetOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*gateway.Order)
	return order, args.Error(1)
}

func (m *mockGateway) CreateRefund(ctx context.Context, orderID string, req gateway.RefundRequest) (*gateway.Refund, error) {
	args := m.Called(ctx, orderID, req)
	refund, _ := args.Get(0).(*gateway.Refund)
	return refund, args.Error(1)
}

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	gateway *mockGateway
	svc     paymentdomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.UnixMilli(1700000000000).UTC())
	gw := &mockGateway{configured: true}
	payments := paymentrepo.Provide()
	invoices := invoicerepo.Provide()
	engine := reconciliation.NewEngine(reconciliation.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    fake,
		Payments: payments,
		Invoices: invoices,
	})

	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Config:   config.Config{FrontendURL: "https://invoice-pay.netlify.app"},
		Gateway:  gw,
		Repo:     payments,
		Invoices: invoices,
		Engine:   engine,
	})
	return &testEnv{db: conn, node: node, clock: fake, gateway: gw, svc: svc}
}

func (e *testEnv) seedInvoice(t *testing.T, number string) {
	t.Helper()
	now := e.clock.Now()
	require.NoError(t, e.db.Create(&invoicedomain.Invoice{
		ID:            e.node.Generate(),
		InvoiceNumber: number,
		Date:          datatypes.Date(now),
		DueDate:       datatypes.Date(now),
		ClientName:    "Asha",
		ClientEmail:   "asha@example.com",
		Items:         datatypes.NewJSONSlice([]invoicedomain.LineItem{}),
		Total:         decimal.RequireFromString("250.50"),
		Status:        invoicedomain.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}).Error)
}

func (e *testEnv) loadPayment(t *testing.T, orderID string) paymentdomain.Payment {
	t.Helper()
	var p paymentdomain.Payment
	require.NoError(t, e.db.Where("order_id = ?", orderID).First(&p).Error)
	return p
}

func (e *testEnv) loadInvoice(t *testing.T, number string) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, e.db.Where("invoice_number = ?", number).First(&inv).Error)
	return inv
}

func (e *testEnv) createOrder(t *testing.T, invoiceNumber string, amount string) string {
	t.Helper()
	orderID := fmt.Sprintf("%s-%d", invoiceNumber, e.clock.Now().UnixMilli())
	e.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req gateway.CreateOrderRequest) bool {
		return req.OrderID == orderID
	})).Return(&gateway.Order{
		CFOrderID:        "2149460581",
		OrderID:          orderID,
		OrderStatus:      "ACTIVE",
		PaymentSessionID: "session_" + orderID,
	}, nil).Once()

	resp, err := e.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		Amount:        decimal.RequireFromString(amount),
		InvoiceNumber: invoiceNumber,
		ClientName:    "Asha",
		ClientEmail:   "asha@example.com",
	})
	require.NoError(t, err)
	return resp.OrderID
}

func TestCreateOrderThenVerifyMarksInvoicePaid(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, "INV-5")

	orderID := env.createOrder(t, "INV-5", "250.50")
	assert.Equal(t, "INV-5-1700000000000", orderID)

	p := env.loadPayment(t, orderID)
	assert.Equal(t, paymentdomain.StatusPending, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("250.50")))
	assert.Equal(t, "INV-5", p.InvoiceNumber)
	assert.Equal(t, "2149460581", p.GatewayOrderID)

	env.gateway.On("GetOrder", mock.Anything, orderID).Return(&gateway.Order{OrderID: orderID, OrderStatus: "PAID"}, nil).Once()
	resp, err := env.svc.VerifyPayment(context.Background(), orderID)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "PAID", resp.Status)

	assert.Equal(t, paymentdomain.StatusPaid, env.loadPayment(t, orderID).Status)
	inv := env.loadInvoice(t, "INV-5")
	assert.Equal(t, invoicedomain.StatusPaid, inv.Status)
	assert.Equal(t, orderID, inv.CurrentPaymentID())
	env.gateway.AssertExpectations(t)
}

func TestCreateOrderBuildsGatewayRequest(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.On("CreateOrder", mock.Anything, mock.Anything).Return(&gateway.Order{
		CFOrderID:        "1",
		OrderID:          "INV-1-1700000000000",
		PaymentSessionID: "session",
	}, nil).Once()

	resp, err := env.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{
		Amount:        decimal.RequireFromString("99.9"),
		InvoiceNumber: "INV-1",
		ClientEmail:   "a.b+c@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "sandbox", resp.Env)
	assert.Equal(t, "session", resp.PaymentSessionID)

	req := env.gateway.Calls[0].Arguments.Get(1).(gateway.CreateOrderRequest)
	assert.Equal(t, "INR", req.OrderCurrency)
	assert.Equal(t, json.Number("99.90"), req.OrderAmount)
	assert.Equal(t, "a_b_c_example_com", req.CustomerDetails.CustomerID)
	assert.Equal(t, "9999999999", req.CustomerDetails.CustomerPhone)
	assert.Equal(t, "https://invoice-pay.netlify.app/payment-success?order_id={order_id}", req.OrderMeta.ReturnURL)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidInvoiceNumber)

	_, err = env.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{InvoiceNumber: "INV-1", Amount: decimal.Zero})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	env.gateway.configured = false
	_, err = env.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{InvoiceNumber: "INV-1", Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
}

func TestCreateOrderPropagatesGatewayError(t *testing.T) {
	env := newTestEnv(t)
	apiErr := &gateway.APIError{StatusCode: 400, Message: "bad amount", Body: json.RawMessage(`{"message":"bad amount"}`)}
	env.gateway.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, apiErr).Once()

	_, err := env.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderRequest{InvoiceNumber: "INV-1", Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, apiErr)

	var count int64
	require.NoError(t, env.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRefundResolvesLatestAttemptByInvoiceNumber(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, "INV-5")
	env.seedInvoice(t, "INV-50")

	older := env.createOrder(t, "INV-5", "100")
	env.clock.Advance(time.Minute)
	latest := env.createOrder(t, "INV-5", "250.50")
	env.clock.Advance(time.Minute)
	env.createOrder(t, "INV-50", "999")
	assert.NotEqual(t, older, latest)

	env.gateway.On("CreateRefund", mock.Anything, latest, mock.MatchedBy(func(req gateway.RefundRequest) bool {
		return req.RefundAmount == json.Number("250.5") && req.RefundSpeed == gateway.RefundSpeedStandard
	})).Return(&gateway.Refund{RefundStatus: "PENDING", Raw: json.RawMessage(`{"refund_status":"PENDING"}`)}, nil).Once()

	resp, err := env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{InvoiceNumber: "INV-5"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"refund_status":"PENDING"}`, string(resp.Cashfree))
	assert.Equal(t, fmt.Sprintf("refund_%s_%d", latest, env.clock.Now().UnixMilli()), resp.RefundID)

	assert.Equal(t, paymentdomain.StatusRefundInitiated, env.loadPayment(t, latest).Status)
	assert.Equal(t, invoicedomain.StatusRefundInitiating, env.loadInvoice(t, "INV-5").Status)
	env.gateway.AssertExpectations(t)
}

func TestRefundPrefersInvoicePaymentIDAndStoredAmount(t *testing.T) {
	env := newTestEnv(t)
	env.seedInvoice(t, "INV-7")
	orderID := env.createOrder(t, "INV-7", "40")
	linked := orderID
	require.NoError(t, env.db.Model(&invoicedomain.Invoice{}).Where("invoice_number = ?", "INV-7").
		Updates(map[string]any{"status": invoicedomain.StatusPaid, "payment_id": linked}).Error)

	env.gateway.On("CreateRefund", mock.Anything, orderID, mock.MatchedBy(func(req gateway.RefundRequest) bool {
		return req.RefundAmount == json.Number("40")
	})).Return(&gateway.Refund{}, nil).Once()

	_, err := env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{
		InvoiceNumberCamel: "INV-7",
		Amount:             json.RawMessage(`"not-a-number"`),
	})
	require.NoError(t, err)
	env.gateway.AssertExpectations(t)
}

func TestRefundErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundTargetNotFound)

	_, err = env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{OrderID: "INV-404-1"})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundAmountNotFound)

	_, err = env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{OrderID: "INV-404-1", Amount: json.RawMessage(`-5`)})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundAmountNotPositive)

	env.gateway.configured = false
	_, err = env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{OrderID: "INV-404-1", Amount: json.RawMessage(`5`)})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
}

func TestRefundIDIsTruncated(t *testing.T) {
	env := newTestEnv(t)
	orderID := "INV-ABCDEFGHIJKLMNOPQRSTUVWXYZABCDEFGHIJKLMNOPQRSTUVWXYZ-1700000000000"
	env.gateway.On("CreateRefund", mock.Anything, orderID, mock.Anything).Return(&gateway.Refund{}, nil).Once()

	resp, err := env.svc.InitiateRefund(context.Background(), paymentdomain.RefundRequest{OrderID: orderID, Amount: json.RawMessage(`10`)})
	require.NoError(t, err)
	assert.Len(t, resp.RefundID, 64)
}

func TestGetByOrderIDNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetByOrderID(context.Background(), "missing")
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)
}

func TestListPendingForReconcile(t *testing.T) {
	env := newTestEnv(t)
	stale := env.createOrder(t, "INV-1", "10")
	env.clock.Advance(48 * time.Hour)
	fresh := env.createOrder(t, "INV-2", "10")

	items, err := env.svc.ListPendingForReconcile(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fresh, items[0].OrderID)
	assert.NotEqual(t, stale, fresh)
}

func TestSanitizeCustomerID(t *testing.T) {
	assert.Equal(t, "cust", SanitizeCustomerID("", " "))
	assert.Equal(t, "INV-1", SanitizeCustomerID("", "INV-1"))
	assert.Len(t, SanitizeCustomerID(string(make([]byte, 100))), 64)
}

func TestParseLooseAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`12.5`, "12.5", true},
		{`"7"`, "7", true},
		{`0`, "0", false},
		{`""`, "0", false},
		{`null`, "0", false},
		{`"abc"`, "0", false},
	}
	for _, tc := range cases {
		amount, ok := parseLooseAmount(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.True(t, amount.Equal(decimal.RequireFromString(tc.want)), tc.raw)
	}
}
