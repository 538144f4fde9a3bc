package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleGateways = `
gateways:
  - name: paystack
    signature:
      algorithm: hmac-sha512-hex
      header: x-paystack-signature
      secret_env: PAYSTACK_SECRET
    api:
      base_url: https://api.paystack.co
      secret_env: PAYSTACK_SECRET
    verify_with_gateway: true
    rate_limit_per_second: 20
  - name: stripe-eu
    kind: stripe
    signature:
      algorithm: stripe-v1
      header: Stripe-Signature
      secret_env: STRIPE_WEBHOOK_SECRET
      tolerance: 5m
`

func fakeEnv(vals map[string]string) func(string, string) string {
	return func(key, fallback string) string {
		if v, ok := vals[key]; ok {
			return v
		}
		return fallback
	}
}

func TestParseGateways(t *testing.T) {
	gws, err := ParseGateways([]byte(sampleGateways), fakeEnv(map[string]string{
		"PAYSTACK_SECRET":       "sk_live_1",
		"STRIPE_WEBHOOK_SECRET": "whsec_2",
	}))
	if err != nil {
		t.Fatalf("ParseGateways: %v", err)
	}
	if len(gws) != 2 {
		t.Fatalf("len = %d, want 2", len(gws))
	}

	ps := gws[0]
	if ps.Kind != "paystack" {
		t.Errorf("Kind = %q, want name as default kind", ps.Kind)
	}
	if ps.Signature.Secret != "sk_live_1" || ps.API.Secret != "sk_live_1" {
		t.Errorf("secrets not resolved: %+v", ps)
	}
	if !ps.VerifyWithGateway || ps.RateLimitPerSec != 20 {
		t.Errorf("VerifyWithGateway = %v, RateLimitPerSec = %d", ps.VerifyWithGateway, ps.RateLimitPerSec)
	}

	st := gws[1]
	if st.Kind != "stripe" {
		t.Errorf("Kind = %q, want %q", st.Kind, "stripe")
	}
	if st.Signature.Tolerance != 5*time.Minute {
		t.Errorf("Tolerance = %v, want 5m", st.Signature.Tolerance)
	}
}

func TestParseGateways_BadYAML(t *testing.T) {
	if _, err := ParseGateways([]byte("gateways: [:"), fakeEnv(nil)); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	gws, err := ParseGateways([]byte(sampleGateways), fakeEnv(map[string]string{
		"PAYSTACK_SECRET":       "sk",
		"STRIPE_WEBHOOK_SECRET": "whsec",
	}))
	if err != nil {
		t.Fatalf("ParseGateways: %v", err)
	}
	return &Config{
		Port:                    "8080",
		StorageBackend:          "memory",
		LogLevel:                "info",
		NumWorkers:              2,
		BatchSize:               10,
		PollInterval:            time.Second,
		VisibilityTimeout:       time.Minute,
		SweepInterval:           time.Minute,
		MaxAttempts:             5,
		RetryBaseDelay:          time.Second,
		RetryMaxDelay:           time.Minute,
		UnknownReferenceLookups: 3,
		GatewayTimeout:          time.Second,
		ReconcileInterval:       10 * time.Minute,
		ReconcileThreshold:      10 * time.Minute,
		ReconcileConcurrency:    4,
		ReconcileBatchLimit:     100,
		ReconcileRunTimeout:     5 * time.Minute,
		MaxPayloadBytes:         1 << 20,
		Gateways:                gws,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"postgres needs database url", func(c *Config) {
			c.StorageBackend = "postgres"
			c.RedisURL = "redis://localhost:6379"
		}, "DatabaseURL"},
		{"unknown backend", func(c *Config) { c.StorageBackend = "sqlite" }, "StorageBackend"},
		{"max delay below base", func(c *Config) { c.RetryMaxDelay = time.Millisecond }, "RetryMaxDelay"},
		{"no gateways", func(c *Config) { c.Gateways = nil }, "Gateways"},
		{"missing secret", func(c *Config) { c.Gateways[0].Signature.Secret = "" }, "Secret"},
		{"unknown kind", func(c *Config) { c.Gateways[1].Kind = "square" }, "Kind"},
		{"zero workers", func(c *Config) { c.NumWorkers = 0 }, "NumWorkers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.yaml")
	if err := os.WriteFile(path, []byte(sampleGateways), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GATEWAYS_FILE", path)
	t.Setenv("PAYSTACK_SECRET", "sk")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("RECONCILE_INTERVAL", "20m")
	t.Setenv("MAX_ATTEMPTS", "7")
	t.Setenv("NUM_WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.MaxAttempts)
	}
	if cfg.NumWorkers != 8 {
		t.Errorf("NumWorkers = %d, want default 8 for unparsable value", cfg.NumWorkers)
	}
	if cfg.ReconcileThreshold != 20*time.Minute {
		t.Errorf("ReconcileThreshold = %v, want the interval", cfg.ReconcileThreshold)
	}
	if cfg.ReconcileRunTimeout != 10*time.Minute {
		t.Errorf("ReconcileRunTimeout = %v, want half the interval", cfg.ReconcileRunTimeout)
	}
	if len(cfg.Gateways) != 2 {
		t.Errorf("len(Gateways) = %d, want 2", len(cfg.Gateways))
	}
}

func TestLoad_MissingGatewaysFile(t *testing.T) {
	t.Setenv("GATEWAYS_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("STORAGE_BACKEND", "memory")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing gateways file")
	}
}
