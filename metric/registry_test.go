package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_CoreMetricsRegistered(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.CoreMetrics())

	// Core metrics must be gatherable without touching them first
	r.Metrics.RecordIngested("sierra-main")
	r.Metrics.RecordMatchPointsInserted(3)
	r.Metrics.RecordReconcileDuration(12 * time.Millisecond)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dcb_ingest_records_total"])
	assert.True(t, names["dcb_match_matchpoints_inserted_total"])
	assert.True(t, names["dcb_match_reconcile_duration_seconds"])
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_custom_total",
		Help: "test counter",
	})

	require.NoError(t, r.Register("orchestrator", "test_custom_total", c))

	// Duplicate name for the same service is rejected
	err := r.Register("orchestrator", "test_custom_total", c)
	assert.Error(t, err)

	assert.True(t, r.Unregister("orchestrator", "test_custom_total"))
	assert.False(t, r.Unregister("orchestrator", "test_custom_total"))
}

func TestMetrics_CounterValues(t *testing.T) {
	m := NewMetrics()

	m.RecordIngested("polaris-east")
	m.RecordIngested("polaris-east")
	m.RecordIngestError("polaris-east", "convert")

	var out dto.Metric
	require.NoError(t, m.RecordsIngested.WithLabelValues("polaris-east").Write(&out))
	assert.Equal(t, float64(2), out.GetCounter().GetValue())

	require.NoError(t, m.IngestErrors.WithLabelValues("polaris-east", "convert").Write(&out))
	assert.Equal(t, float64(1), out.GetCounter().GetValue())
}

func TestMetrics_SourceGauges(t *testing.T) {
	m := NewMetrics()

	m.RecordSourceStarted("sierra")
	m.RecordSourceStarted("sierra")
	m.RecordSourceStopped("sierra")

	var out dto.Metric
	require.NoError(t, m.SourcesActive.WithLabelValues("sierra").Write(&out))
	assert.Equal(t, float64(1), out.GetGauge().GetValue())

	m.RecordSourceThroughput("sierra-main", 1250)
	require.NoError(t, m.SourceThroughput.WithLabelValues("sierra-main").Write(&out))
	assert.Equal(t, float64(1250), out.GetGauge().GetValue())
}
