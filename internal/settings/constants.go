package settings

// DB config keys and defaults.
const (
	// RateTableKey is the DB config key for the model pricing rate table.
	RateTableKey = "CREDIT_RATE_TABLE"
	// SessionTimeoutSecondsKey overrides the streaming session expiry window.
	SessionTimeoutSecondsKey = "SESSION_TIMEOUT_SECONDS"
	// SweepIntervalSecondsKey controls the expiry sweep interval.
	SweepIntervalSecondsKey = "SWEEP_INTERVAL_SECONDS"
	// DefaultSweepIntervalSeconds is the fallback sweep interval (seconds).
	DefaultSweepIntervalSeconds = 60
)
