package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMonitorRecords(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordTick(0.01)
	m.RecordTick(0.02)
	m.RecordInstruction("supply", "settled")
	m.RecordRetry("trade")
	m.RecordRetry("trade")
	m.RecordMismatch()
	m.UpdateEquity(100250)
	m.UpdateReduceOnly(true)
	m.RecordSignal("reserve_low")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instructions.WithLabelValues("supply", "settled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mismatches))
	assert.Equal(t, 100250.0, testutil.ToFloat64(m.equity))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reduceOnly))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("reserve_low")))

	m.UpdateReduceOnly(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reduceOnly))
}

func TestMonitorHandlerExposesNamespace(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordSinkDrop()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ye_engine_sink_dropped_total 1"))
}
