package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/smallbiznis/invoicepay/internal/config"
	obscontext "github.com/smallbiznis/invoicepay/internal/observability/context"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	HTTPClient *http.Client        `name:"gateway_http_client" optional:"true"`
}

// Client talks to the Cashfree PG REST API.
type Client struct {
	cfg        config.GatewayConfig
	log        *zap.Logger
	httpClient *http.Client
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Client {
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   p.Config.Gateway.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		cfg:        p.Config.Gateway,
		log:        p.Log.Named("gateway.cashfree"),
		httpClient: httpClient,
		obsMetrics: p.ObsMetrics,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// Env is echoed to the browser so the checkout SDK picks the matching mode.
func (c *Client) Env() string {
	return c.cfg.Env
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	raw, err := c.do(ctx, "create_order", http.MethodPost, "/orders", req, "", &order)
	if err != nil {
		return nil, err
	}
	order.Raw = raw
	if order.OrderID == "" || order.PaymentSessionID == "" {
		return nil, fmt.Errorf("%w: order response missing order_id or payment_session_id", ErrInvalidResponse)
	}
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	raw, err := c.do(ctx, "get_order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, "", &order)
	if err != nil {
		return nil, err
	}
	order.Raw = raw
	return &order, nil
}

func (c *Client) CreateRefund(ctx context.Context, orderID string, req RefundRequest) (*Refund, error) {
	var refund Refund
	path := "/orders/" + url.PathEscape(orderID) + "/refunds"
	raw, err := c.do(ctx, "create_refund", http.MethodPost, path, req, req.RefundID, &refund)
	if err != nil {
		return nil, err
	}
	refund.Raw = raw
	return &refund, nil
}

func (c *Client) do(
	ctx context.Context,
	operation string,
	method string,
	path string,
	body any,
	idempotencyKey string,
	out any,
) (json.RawMessage, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-client-id", c.cfg.AppID)
	req.Header.Set("x-client-secret", c.cfg.Secret)
	req.Header.Set("x-api-version", c.cfg.APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("x-idempotency-key", idempotencyKey)
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("x-request-id", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.obsMetrics.ObserveGatewayCall(ctx, operation, 0, time.Since(start))
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()
	c.obsMetrics.ObserveGatewayCall(ctx, operation, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := newAPIError(resp.StatusCode, raw)
		c.log.Warn("gateway request rejected",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return nil, apiErr
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return json.RawMessage(raw), nil
}

// IsUpstream reports whether err came from the gateway rather than local state.
func IsUpstream(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) || errors.Is(err, ErrTransport) || errors.Is(err, ErrInvalidResponse)
}
