package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "axio-kernel", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestDisabledProviderIsInert(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// Every instrument call must be a safe no-op.
	p.RecordOutput(ctx, "ACTION_EXECUTED")
	p.RecordRefusal(ctx, "NO_AUTHORITY")
	p.RecordFatal(ctx, "TEMPORAL_REGRESSION")
	p.RecordEpoch(ctx, 7)

	spanCtx, done := p.TrackBatch(ctx)
	require.NotNil(t, spanCtx)
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(ctx))
}

func TestEnabledProviderInitializes(t *testing.T) {
	// Exporter construction does not dial; a collector is not required.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	p, err := New(ctx, &Config{
		ServiceName:    "axio-kernel-test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     0.5,
		BatchTimeout:   time.Second,
		Enabled:        true,
		Insecure:       true,
	})
	require.NoError(t, err)

	p.RecordOutput(ctx, "EPOCH_ADVANCED")
	p.RecordEpoch(ctx, 1)
	_, done := p.TrackBatch(ctx)
	done(nil)

	require.NoError(t, p.Shutdown(ctx))
}
