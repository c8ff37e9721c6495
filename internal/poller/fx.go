package poller

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("poller",
	fx.Provide(NewLocker),
	fx.Provide(New),
)

// Schedule runs sweeps in the background for the lifetime of the app.
var Schedule = fx.Invoke(RegisterLifecycle)

func RegisterLifecycle(lc fx.Lifecycle, p *Poller) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			return p.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-p.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}
