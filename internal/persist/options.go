package persist

import (
	"time"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// OptionsFromConfig builds manager options from the persist config section.
// Zero values keep the resilience defaults.
func OptionsFromConfig(pc config.PersistConfig) Options {
	opts := Options{
		FetchLimit: pc.FetchLimit,
		Retry:      resilience.DefaultRetryConfig(),
		Circuit:    resilience.DefaultCircuitBreakerConfig(),
	}

	r := pc.Remote.Retry
	if r.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		opts.Retry.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		opts.Retry.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}

	c := pc.Remote.Circuit
	if c.FailureThreshold > 0 {
		opts.Circuit.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		opts.Circuit.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return opts
}
