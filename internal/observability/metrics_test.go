package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConnectionStateIsExclusive(t *testing.T) {
	m := NewMetricsForTesting()
	states := []string{"disconnected", "connected", "disconnected_after_error"}

	m.SetConnectionState("connected", states)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionState.WithLabelValues("connected")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionState.WithLabelValues("disconnected")))

	m.SetConnectionState("disconnected_after_error", states)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionState.WithLabelValues("connected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionState.WithLabelValues("disconnected_after_error")))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()
	a.NotificationsAdmitted.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.NotificationsAdmitted))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.NotificationsAdmitted))
}

func TestNewMetricsRegistersRuntimeCollectors(t *testing.T) {
	m := NewMetrics()
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}
