package config

import "time"

// DispatchConfig governs the two dispatchers.
type DispatchConfig struct {
	// MaxConcurrentOrgSyncs is the global ceiling on dispatched organization
	// syncs. The counter it gates measures dispatch slots, not executing
	// import pipelines.
	MaxConcurrentOrgSyncs int           `mapstructure:"max_concurrent_org_syncs" validate:"min=1"`
	TickInterval          time.Duration `mapstructure:"tick_interval"`
	InterModulePause      time.Duration `mapstructure:"inter_module_pause"`
	CounterTTL            time.Duration `mapstructure:"counter_ttl"`
}

// MonitorsConfig holds the self-healing monitor thresholds.
type MonitorsConfig struct {
	MissedTaskAge  time.Duration `mapstructure:"missed_task_age"`
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`

	// StuckSemaphoreWindow is how long the dispatch counter may sit at the
	// ceiling with no completed organization syncs before it is reset.
	StuckSemaphoreWindow time.Duration `mapstructure:"stuck_semaphore_window"`
}

// WarehouseConfig holds batch sink sizes.
type WarehouseConfig struct {
	BatchSizeRows  int `mapstructure:"batch_size_rows" validate:"min=1"`
	BatchSizeHeavy int `mapstructure:"batch_size_heavy" validate:"min=1"`

	// HeartbeatEveryBatches controls how often long importers emit a log
	// event so monitors can tell slow from hung.
	HeartbeatEveryBatches int `mapstructure:"heartbeat_every_batches"`
}

// WorkersConfig sizes the worker pools and sets task time limits.
type WorkersConfig struct {
	Standard     int `mapstructure:"standard" validate:"min=1"`
	HighPriority int `mapstructure:"high_priority" validate:"min=1"`

	TaskSoftTimeout time.Duration `mapstructure:"task_soft_timeout"`
	TaskHardTimeout time.Duration `mapstructure:"task_hard_timeout"`

	// MaskSigtermHighPriority keeps SIGTERM from interrupting a running
	// user-initiated import. Operators cancel with SIGKILL.
	MaskSigtermHighPriority bool `mapstructure:"mask_sigterm_high_priority"`

	TokenRefreshWindow time.Duration `mapstructure:"token_refresh_window"`
}
