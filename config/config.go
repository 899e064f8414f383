package config

import (
	"time"

	"github.com/pitabwire/frame/config"
)

// GatewayConfig holds configuration for the audio gateway service.
type GatewayConfig struct {
	config.ConfigurationDefault

	// Call legs.
	RawListenAddr   string `envDefault:"0.0.0.0:9092" env:"RAW_LISTEN_ADDR"`
	StreamPublicURL string `envDefault:""              env:"STREAM_PUBLIC_URL"`

	// Upstream realtime AI session.
	AIRealtimeURL           string `envDefault:"wss://api.openai.com/v1/realtime" env:"AI_REALTIME_URL"`
	AIAPIKey                string `envDefault:""                                 env:"AI_API_KEY"`
	GreetingDelayMs         int    `envDefault:"300"                              env:"GREETING_DELAY_MS"`
	AIMaxReconnects         int    `envDefault:"3"                                env:"AI_MAX_RECONNECTS"`
	AIReconnectBackoffMs    int    `envDefault:"500"                              env:"AI_RECONNECT_BACKOFF_MS"`
	AIReconnectBackoffMaxMs int    `envDefault:"5000"                             env:"AI_RECONNECT_BACKOFF_MAX_MS"`

	// Persona used when no tenant configuration matches.
	DefaultInstructions string `envDefault:"You are a helpful phone assistant." env:"DEFAULT_INSTRUCTIONS"`
	DefaultGreeting     string `envDefault:"Greet the caller briefly."          env:"DEFAULT_GREETING"`
	DefaultVoice        string `envDefault:"alloy"                              env:"DEFAULT_VOICE"`

	// Tenant configuration directory.
	TenantDir       string `envDefault:"./tenants" env:"TENANT_DIR"`
	DefaultTenant   string `envDefault:""          env:"DEFAULT_TENANT"`
	TenantHotReload bool   `envDefault:"true"      env:"TENANT_HOT_RELOAD"`

	// Webhook delivery.
	WebhookMaxRetries int `envDefault:"5"   env:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeoutSec int `envDefault:"10"  env:"WEBHOOK_TIMEOUT_SEC"`
	WebhookBackoffSec int `envDefault:"1"   env:"WEBHOOK_BACKOFF_INITIAL_SEC"`
	WebhookBackoffMax int `envDefault:"300" env:"WEBHOOK_BACKOFF_MAX_SEC"`
	CBFailThreshold   int `envDefault:"5"   env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec int `envDefault:"60"  env:"CB_RESET_TIMEOUT_SEC"`
}

// GreetingDelay returns the greeting delay as a duration.
func (c *GatewayConfig) GreetingDelay() time.Duration {
	return time.Duration(c.GreetingDelayMs) * time.Millisecond
}

// AIReconnectBackoff returns the initial reconnect backoff as a duration.
func (c *GatewayConfig) AIReconnectBackoff() time.Duration {
	return time.Duration(c.AIReconnectBackoffMs) * time.Millisecond
}

// AIReconnectBackoffMax returns the reconnect backoff cap as a duration.
func (c *GatewayConfig) AIReconnectBackoffMax() time.Duration {
	return time.Duration(c.AIReconnectBackoffMaxMs) * time.Millisecond
}
