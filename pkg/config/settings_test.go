package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubefabric/reactor/pkg/config"
)

func TestDefaultProducesPositiveDurationsAndLimits(t *testing.T) {
	s := config.Default()

	assert.Greater(t, s.Watching.ServerTimeoutSeconds, 0)
	assert.Greater(t, s.Watching.ClientTimeout.Seconds(), 0.0)
	assert.Greater(t, s.Watching.ReconnectBackoff.Seconds(), 0.0)

	assert.Greater(t, s.Batching.WorkerLimit, 0)
	assert.Greater(t, s.Batching.IdleTimeout.Seconds(), 0.0)
	assert.Greater(t, s.Batching.ExitTimeout.Seconds(), 0.0)

	assert.False(t, s.Peering.Standalone)
	assert.Equal(t, "default", s.Peering.Name)
	assert.Greater(t, s.Peering.Lifetime.Seconds(), 0.0)

	assert.False(t, s.Scanning.Disabled)
	assert.Equal(t, "/", s.Admission.Path)
}
