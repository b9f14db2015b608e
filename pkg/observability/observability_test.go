package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	assert.Nil(t, NewMetrics(MetricsConfig{Enabled: false}))
}

func TestNewMetricsRecordsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	require.NotNil(t, m)

	m.RecordScheduled()
	m.RecordPreempted()
	m.RecordAllocation("system")
	m.RecordPageFault()
	m.RecordSwapIn()
	m.RecordSwapOut()
	m.SetUsageRatio(0.5)
	m.RecordQuotaDenial("agent token quota")
	m.RecordQuotaAdmit()
	m.SetBreakerState("llm", 2)
	m.SetBreakerConsecutiveFailures("llm", 3)
	m.RecordAuditWrite("llm_reasoning")

	require.NotNil(t, m.Handler())
}

func TestInitGlobalTracerDisabledYieldsNoopShutdown(t *testing.T) {
	shutdown, err := InitGlobalTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	tracer := Tracer("test")
	assert.NotNil(t, tracer)
}

func TestLoggerInitializesDefault(t *testing.T) {
	defaultLogger = nil
	l := Logger()
	require.NotNil(t, l)
	assert.Same(t, l, Logger(), "subsequent calls must reuse the same logger")
}
