package adapters

import (
	"strings"

	"github.com/smallbiznis/invoicepay/internal/payment/domain"
)

type Registry struct {
	adapters map[string]domain.WebhookAdapter
}

func NewRegistry(adapters ...domain.WebhookAdapter) *Registry {
	registry := &Registry{adapters: map[string]domain.WebhookAdapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := normalizeProvider(adapter.Provider())
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.adapters[normalizeProvider(provider)]
	return ok
}

func (r *Registry) Adapter(provider string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	adapter, ok := r.adapters[normalizeProvider(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
