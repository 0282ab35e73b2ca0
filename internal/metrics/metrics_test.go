package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordOrder("ETHUSDT", "BUY", ResultFilled, time.Second)
	m.RecordOrder("ETHUSDT", "BUY", ResultFilled, 2*time.Second)
	m.RecordOrder("ETHUSDT", "SELL", ResultTimeout, time.Minute)
	m.RecordLockContention("ETHUSDT")
	m.RecordJobRun("grid", nil, time.Millisecond)
	m.RecordJobRun("grid", errors.New("boom"), time.Millisecond)
	m.RecordJobSkipped("mint")
	m.SetPositionsOpen("grid", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("ETHUSDT", "BUY", ResultFilled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("ETHUSDT", "SELL", ResultTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LockContentionTotal.WithLabelValues("ETHUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("grid", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("grid", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobSkippedTotal.WithLabelValues("mint")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PositionsOpen.WithLabelValues("grid")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOrder("ETHUSDT", "BUY", ResultFilled, time.Second)
		m.RecordLockContention("ETHUSDT")
		m.RecordJobRun("grid", nil, time.Second)
		m.RecordJobSkipped("grid")
		m.SetPositionsOpen("grid", 1)
	})
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "registering twice must fail")
}
