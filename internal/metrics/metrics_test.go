package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnAdded("source")
	m.Relayed("offer", 1)
	m.Dropped("offer", DropNoTarget)
	m.UploadBytes(10)
	m.UploadStarted()
	m.UploadFinished("ended")
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Relayed("cmd", 3)
	m.Relayed("cmd", 0)
	m.Dropped("offer", DropNoTarget)
	m.Dropped("offer", DropNoTarget)
	m.UploadStarted()
	m.UploadBytes(1500)
	m.UploadFinished("ended")

	require.Equal(t, 3.0, testutil.ToFloat64(m.relayed.WithLabelValues("cmd")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("offer", DropNoTarget)))
	require.Equal(t, 1500.0, testutil.ToFloat64(m.uploadBytes))
	require.Equal(t, 0.0, testutil.ToFloat64(m.activeUploads))
	require.Equal(t, 1.0, testutil.ToFloat64(m.uploadResults.WithLabelValues("ended")))
}
