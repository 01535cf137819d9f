package config

import "time"

// SetDefaults sets default values for all configuration fields.
func SetDefaults(cfg *Config) {
	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "finsync"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "finsync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Pool.MaxOpen == 0 {
		cfg.Database.Pool.MaxOpen = 25
	}
	if cfg.Database.Pool.MaxIdle == 0 {
		cfg.Database.Pool.MaxIdle = 5
	}
	if cfg.Database.Pool.MaxLifetime == 0 {
		cfg.Database.Pool.MaxLifetime = 5 * time.Minute
	}

	// Redis defaults
	if cfg.Redis.Addr == "" && cfg.Redis.URL == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Namespace == "" {
		cfg.Redis.Namespace = "finsync"
	}
	if cfg.Redis.OpTimeout == 0 {
		cfg.Redis.OpTimeout = 250 * time.Millisecond
	}

	// Provider defaults
	setProviderDefaults(&cfg.Providers.Accounting, "https://api.ledger-x.example.com/v2")
	setProviderDefaults(&cfg.Providers.ERP, "https://api.erp-n.example.com")
	setProviderDefaults(&cfg.Providers.POS, "https://api.pos-t.example.com/v1")

	// Dispatch defaults
	if cfg.Dispatch.MaxConcurrentOrgSyncs == 0 {
		cfg.Dispatch.MaxConcurrentOrgSyncs = 3
	}
	if cfg.Dispatch.TickInterval == 0 {
		cfg.Dispatch.TickInterval = 5 * time.Second
	}
	if cfg.Dispatch.InterModulePause == 0 {
		cfg.Dispatch.InterModulePause = 20 * time.Second
	}
	if cfg.Dispatch.CounterTTL == 0 {
		cfg.Dispatch.CounterTTL = time.Hour
	}

	// Monitor defaults
	if cfg.Monitors.MissedTaskAge == 0 {
		cfg.Monitors.MissedTaskAge = time.Minute
	}
	if cfg.Monitors.StuckThreshold == 0 {
		cfg.Monitors.StuckThreshold = 5 * time.Minute
	}
	if cfg.Monitors.StuckSemaphoreWindow == 0 {
		cfg.Monitors.StuckSemaphoreWindow = 15 * time.Hour
	}

	// Warehouse defaults
	if cfg.Warehouse.BatchSizeRows == 0 {
		cfg.Warehouse.BatchSizeRows = 1000
	}
	if cfg.Warehouse.BatchSizeHeavy == 0 {
		cfg.Warehouse.BatchSizeHeavy = 500
	}
	if cfg.Warehouse.HeartbeatEveryBatches == 0 {
		cfg.Warehouse.HeartbeatEveryBatches = 10
	}

	// Worker defaults
	if cfg.Workers.Standard == 0 {
		cfg.Workers.Standard = 3
	}
	if cfg.Workers.HighPriority == 0 {
		cfg.Workers.HighPriority = 1
	}
	if cfg.Workers.TaskSoftTimeout == 0 {
		cfg.Workers.TaskSoftTimeout = 47 * time.Hour
	}
	if cfg.Workers.TaskHardTimeout == 0 {
		cfg.Workers.TaskHardTimeout = 47*time.Hour + 42*time.Minute
	}
	if cfg.Workers.TokenRefreshWindow == 0 {
		cfg.Workers.TokenRefreshWindow = time.Minute
	}

	// Daemon defaults
	if cfg.Daemon.PIDFile == "" {
		cfg.Daemon.PIDFile = "/tmp/finsync-daemon.pid"
	}
	if cfg.Daemon.ShutdownTimeout == 0 {
		cfg.Daemon.ShutdownTimeout = 30 * time.Second
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Metrics defaults
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "localhost:9311"
	}
}

func setProviderDefaults(p *ProviderConfig, baseURL string) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	if p.RateLimit.Requests == 0 {
		p.RateLimit.Requests = 2
	}
	if p.RateLimit.Burst == 0 {
		p.RateLimit.Burst = 5
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.BackoffBase == 0 {
		p.Retry.BackoffBase = time.Second
	}
	if p.Retry.RetryAfterDefault == 0 {
		p.Retry.RetryAfterDefault = 30 * time.Second
	}
	if p.PageSize == 0 {
		p.PageSize = 100
	}
}
