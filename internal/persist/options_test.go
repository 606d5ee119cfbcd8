package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospect-cli/internal/config"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

func TestOptionsFromConfig_Defaults(t *testing.T) {
	opts := OptionsFromConfig(config.PersistConfig{})
	assert.Equal(t, resilience.DefaultRetryConfig().MaxAttempts, opts.Retry.MaxAttempts)
	assert.Equal(t, resilience.DefaultCircuitBreakerConfig().FailureThreshold, opts.Circuit.FailureThreshold)
	assert.Zero(t, opts.FetchLimit)
}

func TestOptionsFromConfig_Overrides(t *testing.T) {
	opts := OptionsFromConfig(config.PersistConfig{
		FetchLimit: 250,
		Remote: config.RemoteConfig{
			Retry:   config.RetryConfig{MaxAttempts: 7, InitialBackoffMs: 50, MaxBackoffMs: 900},
			Circuit: config.CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 45},
		},
	})
	assert.Equal(t, 250, opts.FetchLimit)
	assert.Equal(t, 7, opts.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, opts.Retry.InitialBackoff)
	assert.Equal(t, 900*time.Millisecond, opts.Retry.MaxBackoff)
	assert.Equal(t, 2, opts.Circuit.FailureThreshold)
	assert.Equal(t, 45*time.Second, opts.Circuit.ResetTimeout)
}
