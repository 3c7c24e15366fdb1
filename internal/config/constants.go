package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Outbound provider call timeout. Adapters never retry; retry policy lives
// in the reconciliation job's per-account handling.
const ProviderRequestTimeout = 10 * time.Second

// Budget for one full reconciliation pass across all providers.
const ReconcileRunTimeout = 30 * time.Minute
