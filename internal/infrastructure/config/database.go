package config

import "time"

// DatabaseConfig holds the relational store settings (task store + warehouse).
type DatabaseConfig struct {
	Type     string     `mapstructure:"type" validate:"oneof=postgres sqlite"`
	URL      string     `mapstructure:"url"`
	Host     string     `mapstructure:"host"`
	Port     int        `mapstructure:"port"`
	User     string     `mapstructure:"user"`
	Password string     `mapstructure:"password"`
	Name     string     `mapstructure:"name"`
	SSLMode  string     `mapstructure:"sslmode"`
	Path     string     `mapstructure:"path"` // sqlite only
	Pool     PoolConfig `mapstructure:"pool"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig holds the shared state store settings. Every operation against
// the store is bounded by OpTimeout so a dead store fails fast.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Namespace string        `mapstructure:"namespace"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}
