package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	testMetrics     *Metrics
	testMetricsOnce sync.Once
)

// getTestMetrics returns a singleton metrics instance for all tests.
// This prevents duplicate Prometheus registration errors since metrics
// are registered globally.
func getTestMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

func TestNewMetrics(t *testing.T) {
	metrics := getTestMetrics()
	assert.NotNil(t, metrics)
	assert.NotNil(t, metrics.MessagesSent)
	assert.NotNil(t, metrics.MessagesReceived)
	assert.NotNil(t, metrics.MessageLatency)
	assert.NotNil(t, metrics.P2PActiveConnections)
	assert.NotNil(t, metrics.FilesUploaded)
	assert.NotNil(t, metrics.FilesDownloaded)
	assert.NotNil(t, metrics.RecommendTrainSteps)
	assert.NotNil(t, metrics.KVOperationDuration)
}

func TestMetrics_IncrementMessagesSent(t *testing.T) {
	metrics := getTestMetrics()

	metrics.MessagesSent.WithLabelValues("delivered").Inc()
	metrics.MessagesSent.WithLabelValues("queued").Inc()
}

func TestMetrics_RecordMessageLatency(t *testing.T) {
	metrics := getTestMetrics()

	metrics.MessageLatency.WithLabelValues().Observe(50.0)
	metrics.MessageLatency.WithLabelValues().Observe(25.0)
}

func TestMetrics_SetActiveP2PConnections(t *testing.T) {
	metrics := getTestMetrics()

	metrics.P2PActiveConnections.WithLabelValues("direct").Set(42)
	metrics.P2PActiveConnections.WithLabelValues("relay").Set(15)
}

func TestMetrics_RecordRecommendTrainStep(t *testing.T) {
	metrics := getTestMetrics()

	metrics.RecommendTrainSteps.WithLabelValues().Inc()
	metrics.RecommendTrainFailures.WithLabelValues("numerical_instability").Inc()
}

func TestMetrics_RecordKVOperation(t *testing.T) {
	metrics := getTestMetrics()

	metrics.KVOperationDuration.WithLabelValues("get", "files").Observe(1.5)
	metrics.KVErrors.WithLabelValues("get", "not_found").Inc()
}
