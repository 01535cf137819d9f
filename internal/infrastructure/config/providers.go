package config

import "time"

// ProvidersConfig groups the per-provider API settings.
type ProvidersConfig struct {
	Accounting ProviderConfig `mapstructure:"accounting"`
	ERP        ProviderConfig `mapstructure:"erp"`
	POS        ProviderConfig `mapstructure:"pos"`
}

// ProviderConfig holds one provider's endpoint and client policy.
type ProviderConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	PageSize  int             `mapstructure:"page_size"`
}

// RateLimitConfig is requests-per-second with a burst allowance.
type RateLimitConfig struct {
	Requests float64 `mapstructure:"requests"`
	Burst    int     `mapstructure:"burst"`
}

// RetryConfig governs transient-error retries. RetryAfterDefault applies when
// a 429 response carries no Retry-After header.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	RetryAfterDefault time.Duration `mapstructure:"retry_after_default"`
}
