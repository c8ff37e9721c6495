package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/clock"
	obscontext "github.com/smallbiznis/invoicepay/internal/observability/context"
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"github.com/smallbiznis/invoicepay/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/reconciliation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Engine     *reconciliation.Engine
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	adapters   *adapters.Registry
	engine     *reconciliation.Engine
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		adapters:   p.Adapters,
		engine:     p.Engine,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook authenticates, decodes and reconciles one delivery. Once the delivery is
// authenticated and parsed it returns nil even when the stores could not be updated.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return nil, err
	}

	verification, err := adapter.Verify(ctx, payload, headers)
	if err != nil {
		s.obsMetrics.RecordWebhook(ctx, provider, outcomeLabel(err))
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.obsMetrics.RecordWebhook(ctx, provider, outcomeLabel(err))
		return nil, err
	}

	ctx = obscontext.WithOrderID(ctx, event.OrderID)
	log := logger.WithOrder(logger.WithContext(ctx, s.log), event.OrderID).With(
		zap.String("provider", provider),
		zap.String("event_type", event.Type),
	)
	if verification.Bypassed {
		log.Warn("webhook signature check bypassed for dashboard test delivery")
	}

	result := &paymentdomain.IngestResult{
		Provider: provider,
		OrderID:  event.OrderID,
		Family:   event.Family,
		Bypassed: verification.Bypassed,
	}

	record, duplicate := s.recordEvent(ctx, log, event, verification)
	if duplicate {
		result.Duplicate = true
		s.obsMetrics.RecordWebhook(ctx, provider, "duplicate")
		log.Info("webhook already processed")
		return result, nil
	}

	outcome := s.engine.Apply(ctx, *event)
	result.Ignored = outcome.Skipped

	if outcome.PaymentErr != nil {
		// Left unprocessed so a gateway re-delivery gets another chance.
		s.obsMetrics.RecordWebhook(ctx, provider, "store_error")
		return result, nil
	}
	if record != nil {
		if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
			log.Warn("mark webhook processed failed", zap.Error(err))
		}
	}

	label := "processed"
	if outcome.Skipped {
		label = "ignored"
	}
	s.obsMetrics.RecordWebhook(ctx, provider, label)
	log.Info("webhook processed",
		zap.String("status", string(outcome.Status)),
		zap.Bool("invoice_updated", outcome.InvoiceUpdated),
	)
	return result, nil
}

// recordEvent stores the delivery. It reports duplicate only for a delivery that was
// already fully processed; storage failures never block reconciliation.
func (s *Service) recordEvent(
	ctx context.Context,
	log *zap.Logger,
	event *paymentdomain.GatewayEvent,
	verification paymentdomain.Verification,
) (*paymentdomain.WebhookEvent, bool) {
	record := &paymentdomain.WebhookEvent{
		ID:                s.genID.Generate(),
		Provider:          event.Provider,
		ProviderEventID:   event.ProviderEventID,
		EventType:         event.Type,
		OrderID:           event.OrderID,
		Payload:           datatypes.JSON(event.RawPayload),
		SignatureVerified: verification.Verified,
		ReceivedAt:        s.clock.Now(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		log.Warn("record webhook event failed", zap.Error(err))
		return nil, false
	}
	if inserted {
		return record, false
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		log.Warn("load webhook event failed", zap.Error(err))
		return nil, false
	}
	if existing == nil {
		return nil, false
	}
	return existing, existing.ProcessedAt != nil
}

func outcomeLabel(err error) string {
	switch {
	case paymentdomain.IsSignatureError(err):
		return "rejected_signature"
	case errors.Is(err, paymentdomain.ErrSecretNotConfigured):
		return "not_configured"
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "error"
	}
}
