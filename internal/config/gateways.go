package config

import "time"

type gatewaysFile struct {
	Gateways []GatewayConfig `yaml:"gateways"`
}

// GatewayConfig describes one entry of the gateway table.
type GatewayConfig struct {
	Name string `yaml:"name" validate:"required"`
	// Kind selects the payload parser and status-query client.
	Kind              string          `yaml:"kind" validate:"oneof=paystack flutterwave stripe"`
	Signature         SignatureConfig `yaml:"signature"`
	API               APIConfig       `yaml:"api"`
	VerifyWithGateway bool            `yaml:"verify_with_gateway"`
	RateLimitPerSec   int             `yaml:"rate_limit_per_second" validate:"min=0"`
}

// SignatureConfig configures inbound webhook verification.
type SignatureConfig struct {
	Algorithm string        `yaml:"algorithm" validate:"required"`
	Header    string        `yaml:"header" validate:"required"`
	SecretEnv string        `yaml:"secret_env" validate:"required"`
	Tolerance time.Duration `yaml:"tolerance"`
	Secret    string        `yaml:"-" validate:"required"`
}

// APIConfig configures the outbound status-query API.
type APIConfig struct {
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	SecretEnv string `yaml:"secret_env"`
	Secret    string `yaml:"-"`
}
