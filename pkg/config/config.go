// Package config loads station configuration: 12-factor environment
// variables for runtime knobs, plus YAML bootstrap profiles that seed
// policies and named rules on first start.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds station runtime configuration.
type Config struct {
	// StorePath is the sqlite DSN backing the index store. ":memory:" is
	// valid for throwaway instances.
	StorePath string
	LogLevel  string

	// AuditDriver selects the audit ledger backend: "sqlite" shares the
	// index store's handle, "postgres" uses AuditDSN.
	AuditDriver string
	AuditDSN    string

	DefaultExpiry      time.Duration
	SchedulingInterval time.Duration
	ExpirationInterval time.Duration
	ApprovalInterval   time.Duration
	MaxExecuteAttempts int

	ProfilePath string

	TelemetryEnabled bool
	OTLPEndpoint     string
	Environment      string
}

// Load reads configuration from the environment with safe defaults.
func Load() *Config {
	return &Config{
		StorePath:          getenv("STATION_STORE_PATH", "station.db"),
		LogLevel:           getenv("STATION_LOG_LEVEL", "info"),
		AuditDriver:        getenv("STATION_AUDIT_DRIVER", "sqlite"),
		AuditDSN:           os.Getenv("STATION_AUDIT_DSN"),
		DefaultExpiry:      duration("STATION_DEFAULT_EXPIRY", 7*24*time.Hour),
		SchedulingInterval: duration("STATION_SCHEDULING_INTERVAL", 5*time.Second),
		ExpirationInterval: duration("STATION_EXPIRATION_INTERVAL", 60*time.Second),
		ApprovalInterval:   duration("STATION_APPROVAL_INTERVAL", 30*time.Second),
		MaxExecuteAttempts: integer("STATION_MAX_EXECUTE_ATTEMPTS", 10),
		ProfilePath:        os.Getenv("STATION_PROFILE"),
		TelemetryEnabled:   os.Getenv("STATION_TELEMETRY") == "true",
		OTLPEndpoint:       getenv("STATION_OTLP_ENDPOINT", "localhost:4317"),
		Environment:        getenv("STATION_ENVIRONMENT", "development"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
