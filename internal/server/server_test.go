package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"github.com/smallbiznis/invoicepay/internal/observability"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testFrontend = "https://app.example.com"

type fakeInvoiceService struct {
	invoicedomain.Service

	createErr error
	listErr   error
	list      []invoicedomain.Invoice
	pdf       []byte
	updateErr error
	lastReq   invoicedomain.UpdateInvoiceRequest
}

func (f *fakeInvoiceService) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.Invoice, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &invoicedomain.Invoice{InvoiceNumber: req.InvoiceNumber, Status: invoicedomain.StatusCreated}, nil
}

func (f *fakeInvoiceService) ListByEmail(ctx context.Context, email string) ([]invoicedomain.Invoice, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeInvoiceService) RenderPDF(ctx context.Context, invoiceNumber string) ([]byte, error) {
	if f.pdf == nil {
		return nil, invoicedomain.ErrNotFound
	}
	return f.pdf, nil
}

func (f *fakeInvoiceService) UpdateStatus(ctx context.Context, invoiceNumber string, req invoicedomain.UpdateInvoiceRequest) (*invoicedomain.Invoice, error) {
	f.lastReq = req
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &invoicedomain.Invoice{InvoiceNumber: invoiceNumber, Status: invoicedomain.NormalizeStatus(req.Status), PaymentID: req.PaymentID}, nil
}

type fakePaymentService struct {
	paymentdomain.Service

	createErr error
	verifyErr error
	refundErr error
	payment   *paymentdomain.Payment
}

func (f *fakePaymentService) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.CreateOrderResponse, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &paymentdomain.CreateOrderResponse{
		CFOrderID:        "2149",
		OrderID:          req.InvoiceNumber + "-1700000000000",
		PaymentSessionID: "session_abc",
		Env:              "sandbox",
	}, nil
}

func (f *fakePaymentService) VerifyPayment(ctx context.Context, orderID string) (*paymentdomain.VerifyPaymentResponse, error) {
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &paymentdomain.VerifyPaymentResponse{Success: true, Status: "PAID"}, nil
}

func (f *fakePaymentService) InitiateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResponse, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &paymentdomain.RefundResponse{
		Success:  true,
		RefundID: "refund_" + req.OrderID + "_1",
		Cashfree: json.RawMessage(`{"refund_status":"PENDING"}`),
	}, nil
}

func (f *fakePaymentService) GetByOrderID(ctx context.Context, orderID string) (*paymentdomain.Payment, error) {
	if f.payment == nil || f.payment.OrderID != orderID {
		return nil, paymentdomain.ErrNotFound
	}
	return f.payment, nil
}

type fakeWebhookService struct {
	err     error
	payload []byte
	headers http.Header
}

func (f *fakeWebhookService) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.IngestResult, error) {
	f.payload = payload
	f.headers = headers
	if f.err != nil {
		return nil, f.err
	}
	return &paymentdomain.IngestResult{Provider: provider, OrderID: "INV-1-1700000000000"}, nil
}

func newTestEngine(t *testing.T, inv *fakeInvoiceService, pay *fakePaymentService, wh *fakeWebhookService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if inv == nil {
		inv = &fakeInvoiceService{}
	}
	if pay == nil {
		pay = &fakePaymentService{}
	}
	if wh == nil {
		wh = &fakeWebhookService{}
	}

	cfg := config.Config{FrontendURL: testFrontend}
	engine := NewEngine(observability.Config{Environment: "test"}, cfg, nil)
	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        zap.NewNop(),
		InvoiceSvc: inv,
		PaymentSvc: pay,
		WebhookSvc: wh,
	})
	return engine
}

func doRequest(engine *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)

	rec := doRequest(engine, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Backend is running!", rec.Body.String())

	rec = doRequest(engine, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestCreateInvoiceResponses(t *testing.T) {
	body := []byte(`{"invoiceNumber":"INV-1","clientName":"A","clientEmail":"a@example.com","date":"2024-01-01","items":[{"description":"x","quantity":1,"price":10}]}`)

	t.Run("created", func(t *testing.T) {
		rec := doRequest(newTestEngine(t, nil, nil, nil), http.MethodPost, "/api/invoices", body, nil)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "INV-1", decodeBody(t, rec)["invoice_number"])
	})

	t.Run("validation", func(t *testing.T) {
		inv := &fakeInvoiceService{createErr: invoicedomain.ErrInvalidClientEmail}
		rec := doRequest(newTestEngine(t, inv, nil, nil), http.MethodPost, "/api/invoices", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		payload := decodeBody(t, rec)["error"].(map[string]any)
		assert.Equal(t, "validation_error", payload["type"])
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(newTestEngine(t, nil, nil, nil), http.MethodPost, "/api/invoices", []byte(`{`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate", func(t *testing.T) {
		inv := &fakeInvoiceService{createErr: invoicedomain.ErrDuplicateInvoiceNumber}
		rec := doRequest(newTestEngine(t, inv, nil, nil), http.MethodPost, "/api/invoices", body, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		inv := &fakeInvoiceService{createErr: errors.New("connection reset")}
		rec := doRequest(newTestEngine(t, inv, nil, nil), http.MethodPost, "/api/invoices", body, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Internal server error", decodeBody(t, rec)["error"])
	})
}

func TestListInvoicesByEmail(t *testing.T) {
	inv := &fakeInvoiceService{listErr: invoicedomain.ErrNotFound}
	rec := doRequest(newTestEngine(t, inv, nil, nil), http.MethodGet, "/api/invoices/nobody@example.com", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No invoices found", decodeBody(t, rec)["message"])

	inv = &fakeInvoiceService{list: []invoicedomain.Invoice{{InvoiceNumber: "INV-1"}, {InvoiceNumber: "INV-2"}}}
	rec = doRequest(newTestEngine(t, inv, nil, nil), http.MethodGet, "/api/invoices/a@example.com", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 2)

	inv = &fakeInvoiceService{listErr: errors.New("boom")}
	rec = doRequest(newTestEngine(t, inv, nil, nil), http.MethodGet, "/api/invoices/a@example.com", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server error", decodeBody(t, rec)["error"])
}

func TestDownloadInvoicePDF(t *testing.T) {
	inv := &fakeInvoiceService{pdf: []byte("%PDF-1.4")}
	rec := doRequest(newTestEngine(t, inv, nil, nil), http.MethodGet, "/api/invoices/INV-1/pdf", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `INV-1.pdf`)

	rec = doRequest(newTestEngine(t, nil, nil, nil), http.MethodGet, "/api/invoices/INV-9/pdf", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateInvoiceOverride(t *testing.T) {
	inv := &fakeInvoiceService{}
	engine := newTestEngine(t, inv, nil, nil)

	rec := doRequest(engine, http.MethodPut, "/api/invoices/INV-1", []byte(`{"status":"paid","paymentId":"INV-1-1700000000000"}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", decodeBody(t, rec)["status"])
	require.NotNil(t, inv.lastReq.PaymentID)
	assert.Equal(t, "INV-1-1700000000000", *inv.lastReq.PaymentID)

	inv.updateErr = invoicedomain.ErrNotFound
	rec = doRequest(engine, http.MethodPut, "/api/invoices/INV-404", []byte(`{"status":"PAID"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	inv.updateErr = errors.New("deadlock")
	rec = doRequest(engine, http.MethodPut, "/api/invoices/INV-1", []byte(`{"status":"PAID"}`), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeBody(t, rec)["error"])
}

func TestCreateOrderResponses(t *testing.T) {
	body := []byte(`{"amount":150.5,"invoiceNumber":"INV-1","clientName":"A","clientEmail":"a@example.com"}`)

	rec := doRequest(newTestEngine(t, nil, nil, nil), http.MethodPost, "/api/create-order", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "session_abc", out["payment_session_id"])
	assert.Equal(t, "INV-1-1700000000000", out["order_id"])
	assert.Equal(t, "sandbox", out["env"])

	upstream := &gateway.APIError{StatusCode: http.StatusBadRequest, Body: json.RawMessage(`{"message":"order_amount invalid","code":"order_amount_invalid"}`)}
	pay := &fakePaymentService{createErr: upstream}
	rec = doRequest(newTestEngine(t, nil, pay, nil), http.MethodPost, "/api/create-order", body, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	out = decodeBody(t, rec)
	assert.Equal(t, "Error creating Cashfree order", out["error"])
	details := out["details"].(map[string]any)
	assert.Equal(t, "order_amount_invalid", details["code"])

	pay = &fakePaymentService{createErr: gateway.ErrNotConfigured}
	rec = doRequest(newTestEngine(t, nil, pay, nil), http.MethodPost, "/api/create-order", body, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgGatewayMisconfigured, decodeBody(t, rec)["error"])

	pay = &fakePaymentService{createErr: paymentdomain.ErrInvalidAmount}
	rec = doRequest(newTestEngine(t, nil, pay, nil), http.MethodPost, "/api/create-order", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPaymentResponses(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)

	rec := doRequest(engine, http.MethodPost, "/api/verify-payment", []byte(`{"order_id":"INV-1-1700000000000"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "PAID", out["status"])

	rec = doRequest(engine, http.MethodPost, "/api/verify-payment", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	pay := &fakePaymentService{verifyErr: gateway.ErrTransport}
	rec = doRequest(newTestEngine(t, nil, pay, nil), http.MethodPost, "/api/verify-payment", []byte(`{"order_id":"INV-1-1"}`), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Payment verification failed", decodeBody(t, rec)["error"])
}

func TestRefundErrorMessages(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"no target", paymentdomain.ErrRefundTargetNotFound, http.StatusBadRequest, "order_id or invoice_number is required"},
		{"not configured", gateway.ErrNotConfigured, http.StatusInternalServerError, msgGatewayMisconfigured},
		{"no amount", paymentdomain.ErrRefundAmountNotFound, http.StatusBadRequest, "Valid refund amount not found"},
		{"zero amount", paymentdomain.ErrRefundAmountNotPositive, http.StatusBadRequest, "Refund amount must be greater than 0"},
		{"upstream", &gateway.APIError{StatusCode: http.StatusConflict, Message: "refund exists"}, http.StatusInternalServerError, "Refund initiation failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pay := &fakePaymentService{refundErr: tc.err}
			rec := doRequest(newTestEngine(t, nil, pay, nil), http.MethodPost, "/api/refund", []byte(`{"invoice_number":"INV-1"}`), nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.msg, decodeBody(t, rec)["error"])
		})
	}
}

func TestRefundSuccessPassesGatewayBody(t *testing.T) {
	rec := doRequest(newTestEngine(t, nil, nil, nil), http.MethodPost, "/api/refund", []byte(`{"order_id":"INV-1-1700000000000","amount":"10"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "refund_INV-1-1700000000000_1", out["refund_id"])
	assert.Equal(t, "PENDING", out["cashfree"].(map[string]any)["refund_status"])
}

func TestGetPayment(t *testing.T) {
	pay := &fakePaymentService{payment: &paymentdomain.Payment{OrderID: "INV-1-1700000000000", Status: paymentdomain.StatusPaid, CreatedAt: time.Unix(1700000000, 0).UTC()}}
	engine := newTestEngine(t, nil, pay, nil)

	rec := doRequest(engine, http.MethodGet, "/api/payments/INV-1-1700000000000", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(engine, http.MethodGet, "/api/payments/INV-2-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Payment not found", decodeBody(t, rec)["error"])
}

func TestWebhookResponses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"ok", nil, http.StatusOK, "OK"},
		{"missing signature", paymentdomain.ErrMissingSignature, http.StatusBadRequest, "Missing signature"},
		{"missing timestamp", paymentdomain.ErrMissingTimestamp, http.StatusBadRequest, "Missing timestamp"},
		{"no secret", paymentdomain.ErrSecretNotConfigured, http.StatusInternalServerError, "Server not configured"},
		{"malformed", paymentdomain.ErrMalformedSignature, http.StatusBadRequest, "Invalid signature format"},
		{"mismatch", paymentdomain.ErrInvalidSignature, http.StatusBadRequest, "Invalid signature"},
		{"bad json", paymentdomain.ErrInvalidPayload, http.StatusBadRequest, "Bad Request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wh := &fakeWebhookService{err: tc.err}
			rec := doRequest(newTestEngine(t, nil, nil, wh), http.MethodPost, "/api/webhook/cashfree", []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`), nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.body, rec.Body.String())
		})
	}
}

func TestWebhookAliasReceivesExactBytes(t *testing.T) {
	wh := &fakeWebhookService{}
	engine := newTestEngine(t, nil, nil, wh)
	raw := []byte("{\"data\": {\"order\":{\"order_id\":\"INV-1-1700000000000\"}} ,\n \"amount\": 10.10}")

	rec := doRequest(engine, http.MethodPost, "/api/cashfree/webhook", raw, map[string]string{
		"x-webhook-signature": "c2ln",
		"x-webhook-timestamp": "1700000000",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, raw, wh.payload)
	assert.Equal(t, "c2ln", wh.headers.Get("x-webhook-signature"))
}

func TestCORSPreflight(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)

	rec := doRequest(engine, http.MethodOptions, "/api/create-order", nil, map[string]string{
		"Origin":                         testFrontend,
		"Access-Control-Request-Headers": "content-type",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testFrontend, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)

	rec = doRequest(engine, http.MethodGet, "/", nil, map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "https://api.cashfree.com")
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, route, client string) (bool, time.Duration, error) {
	f.keys = append(f.keys, route)
	return f.allow, 1500 * time.Millisecond, f.err
}

func TestGatewayRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{FrontendURL: testFrontend}
	engine := NewEngine(observability.Config{Environment: "test"}, cfg, nil)
	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        zap.NewNop(),
		InvoiceSvc: &fakeInvoiceService{},
		PaymentSvc: &fakePaymentService{},
		WebhookSvc: &fakeWebhookService{},
	})
	limiter := &fakeLimiter{}
	srv.limiter = limiter

	rec := doRequest(engine, http.MethodPost, "/api/verify-payment", []byte(`{"order_id":"INV-1-1"}`), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"/api/verify-payment"}, limiter.keys)

	limiter.allow = true
	rec = doRequest(engine, http.MethodPost, "/api/verify-payment", []byte(`{"order_id":"INV-1-1"}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	limiter.allow = false
	limiter.err = errors.New("redis down")
	rec = doRequest(engine, http.MethodPost, "/api/verify-payment", []byte(`{"order_id":"INV-1-1"}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(engine, http.MethodGet, "/api/payments/INV-1-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, limiter.keys, 3)
}
