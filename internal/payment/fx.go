package payment

import (
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	"github.com/smallbiznis/invoicepay/internal/payment/adapters"
	"github.com/smallbiznis/invoicepay/internal/payment/adapters/cashfree"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/payment/repository"
	paymentservice "github.com/smallbiznis/invoicepay/internal/payment/service"
	"github.com/smallbiznis/invoicepay/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(client *gateway.Client) paymentdomain.Gateway { return client }),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			cashfree.NewAdapter(cfg),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
