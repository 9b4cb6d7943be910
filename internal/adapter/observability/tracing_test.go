package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/subfleet/internal/config"
)

func TestSetupTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()
	// No OTLP endpoint means tracing is off: both return values are nil and
	// callers must guard the shutdown func before deferring it.
	shutdown, err := SetupTracing(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, shutdown)
}
