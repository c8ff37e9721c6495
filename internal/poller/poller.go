// Package poller periodically re-verifies payments that never received a final webhook.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

var ErrLockHeld = errors.New("reconciler_lock_held")

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   *config.ReconcilerConfigHolder
	Payments paymentdomain.Service
	Locker   *Locker                   `optional:"true"`
	Metrics  *obsmetrics.PollerMetrics `optional:"true"`
}

type Poller struct {
	log      *zap.Logger
	clock    clock.Clock
	cfg      *config.ReconcilerConfigHolder
	payments paymentdomain.Service
	locker   *Locker
	metrics  *obsmetrics.PollerMetrics

	mu       sync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	interval time.Duration
	ctx      context.Context
}

// Summary reports one sweep.
type Summary struct {
	Checked int
	Settled int
	Failed  int
	Skipped string
}

func New(p Params) *Poller {
	return &Poller{
		log:      p.Log.Named("poller"),
		clock:    p.Clock,
		cfg:      p.Config,
		payments: p.Payments,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}
}

// RunOnce sweeps one batch of pending payments through gateway verification.
func (p *Poller) RunOnce(parent context.Context, trigger string) (Summary, error) {
	cfg := p.cfg.Get()
	if !cfg.Enabled && trigger == TriggerSchedule {
		p.metrics.IncSkipped(obsmetrics.PollerSkipDisabled)
		return Summary{Skipped: obsmetrics.PollerSkipDisabled}, nil
	}

	ctx, cancel := context.WithTimeout(parent, cfg.LockTTL)
	defer cancel()

	if p.locker != nil {
		token, ok, err := p.locker.TryLock(ctx, sweepLockKey, cfg.LockTTL)
		if err != nil {
			p.metrics.IncError(err)
			return Summary{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			p.metrics.IncSkipped(obsmetrics.PollerSkipLockHeld)
			return Summary{Skipped: obsmetrics.PollerSkipLockHeld}, nil
		}
		defer func() {
			if err := p.locker.Release(context.Background(), sweepLockKey, token); err != nil {
				p.log.Warn("release sweep lock failed", zap.Error(err))
			}
		}()
	}

	start := p.clock.Now()
	p.metrics.IncRun(trigger)
	defer func() { p.metrics.ObserveDuration(p.clock.Now().Sub(start)) }()

	pending, err := p.payments.ListPendingForReconcile(ctx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		p.metrics.IncError(err)
		return Summary{}, err
	}

	var summary Summary
	for _, payment := range pending {
		if ctx.Err() != nil {
			p.metrics.IncError(ctx.Err())
			p.log.Warn("sweep deadline reached", zap.Int("remaining", len(pending)-summary.Checked))
			break
		}
		summary.Checked++

		log := logger.WithOrder(p.log, payment.OrderID)
		resp, err := p.payments.VerifyPayment(ctx, payment.OrderID)
		if err != nil {
			summary.Failed++
			p.metrics.IncError(err)
			log.Warn("verify pending payment failed", zap.Error(err))
			continue
		}
		if resp.Success {
			summary.Settled++
		}
		p.metrics.IncProcessed(resp.Status)
	}

	p.log.Info("reconciliation sweep finished",
		zap.String("trigger", trigger),
		zap.Int("checked", summary.Checked),
		zap.Int("settled", summary.Settled),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	p.cron = cron.New()
	if err := p.scheduleLocked(p.cfg.Get().Interval); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *Poller) Stop() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return p.cron.Stop()
}

func (p *Poller) scheduleLocked(interval time.Duration) error {
	if p.entryID != 0 {
		p.cron.Remove(p.entryID)
	}
	id, err := p.cron.AddFunc(fmt.Sprintf("@every %s", interval), p.tick)
	if err != nil {
		return fmt.Errorf("schedule reconciliation sweep: %w", err)
	}
	p.entryID = id
	p.interval = interval
	return nil
}

func (p *Poller) tick() {
	p.mu.Lock()
	ctx := p.ctx
	if want := p.cfg.Get().Interval; want != p.interval {
		if err := p.scheduleLocked(want); err != nil {
			p.log.Warn("reschedule failed", zap.Error(err))
		} else {
			p.log.Info("sweep interval changed", zap.Duration("interval", want))
		}
	}
	p.mu.Unlock()

	if _, err := p.RunOnce(ctx, TriggerSchedule); err != nil {
		p.log.Error("reconciliation sweep failed", zap.Error(err))
	}
}
