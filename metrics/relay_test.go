package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader sdkmetric.Reader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestRelayCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewRelay(provider.Meter("test"))
	require.NoError(t, err)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.HostRegistered()
	m.ClientJoined()
	m.ClientJoined()
	m.ClientLeft()
	m.FrameRelayed("to_host")
	m.FrameRelayed("to_client")
	m.FrameRelayed("to_client")
	m.MalformedFrame()
	m.LivenessTermination()

	got := collect(t, reader)
	assert.Equal(t, int64(1), got["nexus_connections"])
	assert.Equal(t, int64(1), got["nexus_hosts"])
	assert.Equal(t, int64(1), got["nexus_clients"])
	assert.Equal(t, int64(3), got["nexus_frames_relayed_total"])
	assert.Equal(t, int64(1), got["nexus_malformed_frames_total"])
	assert.Equal(t, int64(1), got["nexus_liveness_terminations_total"])
}

func TestNoop(t *testing.T) {
	m := Noop()
	assert.NotPanics(t, func() {
		m.HostRegistered()
		m.HostClosed()
		m.FrameRelayed("to_host")
	})
}
