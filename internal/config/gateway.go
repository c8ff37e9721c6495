package config

import (
	"strings"
	"time"
)

const (
	GatewayEnvSandbox    = "sandbox"
	GatewayEnvProduction = "production"

	DefaultGatewayAPIVersion = "2022-09-01"

	gatewaySandboxURL    = "https://sandbox.cashfree.com/pg"
	gatewayProductionURL = "https://api.cashfree.com/pg"
)

// GatewayConfig carries Cashfree credentials and endpoint selection.
type GatewayConfig struct {
	AppID             string
	Secret            string
	WebhookSecret     string
	Env               string
	BaseURLOverride   string
	APIVersion        string
	Timeout           time.Duration
	WebhookTestBypass bool
}

// Configured reports whether both API credentials are present.
func (g GatewayConfig) Configured() bool {
	return g.AppID != "" && g.Secret != ""
}

// BaseURL returns the PG endpoint root for the configured environment.
func (g GatewayConfig) BaseURL() string {
	if g.BaseURLOverride != "" {
		return strings.TrimRight(g.BaseURLOverride, "/")
	}
	if g.Env == GatewayEnvProduction {
		return gatewayProductionURL
	}
	return gatewaySandboxURL
}

// SigningSecret is the key used to verify webhook signatures.
// The API client secret wins over the dedicated webhook secret.
func (g GatewayConfig) SigningSecret() string {
	if g.Secret != "" {
		return g.Secret
	}
	return g.WebhookSecret
}

func normalizeGatewayEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case GatewayEnvProduction, "prod", "live":
		return GatewayEnvProduction
	default:
		return GatewayEnvSandbox
	}
}
