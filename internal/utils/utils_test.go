package utils

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(MetricLLMRequests)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetCounterValue(MetricLLMRequests))
}

func TestMetricsCollectorSnapshot(t *testing.T) {
	m := NewMetricsCollector()
	m.IncGauge(MetricSessionsActive)
	m.IncGauge(MetricSessionsActive)
	m.DecGauge(MetricSessionsActive)
	m.ObserveDuration(MetricLLMLatency, 30*time.Millisecond)
	m.ObserveDuration(MetricLLMLatency, 10*time.Millisecond)

	snapshot := m.GetMetrics()
	assert.Equal(t, int64(1), snapshot["gauges"].(map[string]int64)[MetricSessionsActive])

	latency := snapshot["histograms"].(map[string]map[string]int64)[MetricLLMLatency]
	assert.Equal(t, int64(2), latency["count"])
	assert.Equal(t, int64(10), latency["min"])
	assert.Equal(t, int64(30), latency["max"])
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := GetLogger()
	logger.SetOutput(&buf)
	defer logger.SetOutput(&bytes.Buffer{})

	logger.Info("autosave written", map[string]interface{}{"slot": "autosave_Rin"})

	assert.Contains(t, buf.String(), "autosave written")
	assert.Contains(t, buf.String(), "slot=autosave_Rin")
}

func TestSecretRoundTrip(t *testing.T) {
	sealed, err := EncryptSecret("gsk-test", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "gsk-test")

	plain, err := DecryptSecret(sealed, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "gsk-test", plain)

	_, err = DecryptSecret(sealed, "wrong")
	assert.Error(t, err)

	_, err = DecryptSecret("AAAA", "passphrase")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
