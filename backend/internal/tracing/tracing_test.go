package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	closer, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, closer(context.Background()))
}

func TestInitEnabledInstallsProvider(t *testing.T) {
	closer, err := Init(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "flowguard-test",
		OTLPEndpoint: "127.0.0.1:4317",
		SampleRatio:  1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = closer(ctx)
}
