package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Run("ProgramsCompiled", func(t *testing.T) {
		before := testutil.ToFloat64(ProgramsCompiled.WithLabelValues(ResultOK))
		ProgramsCompiled.WithLabelValues(ResultOK).Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(ProgramsCompiled.WithLabelValues(ResultOK)))
	})

	t.Run("FutexClaims", func(t *testing.T) {
		before := testutil.ToFloat64(FutexClaims)
		FutexClaims.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(FutexClaims))
	})

	t.Run("SharedMemoryBytes", func(t *testing.T) {
		SharedMemoryBytes.Add(4096)
		assert.GreaterOrEqual(t, testutil.ToFloat64(SharedMemoryBytes), float64(4096))
		SharedMemoryBytes.Sub(4096)
	})

	t.Run("TokenWaitSeconds", func(t *testing.T) {
		assert.NotPanics(t, func() {
			TokenWaitSeconds.WithLabelValues("blocking").Observe(0.003)
		})
	})
}

func TestResult(t *testing.T) {
	assert.Equal(t, ResultOK, Result(nil))
	assert.Equal(t, ResultError, Result(errors.New("boom")))
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		ProgramsCompiled,
		KernelsBuilt,
		KernelLaunches,
		TokenWaitSeconds,
		FutexClaims,
		SharedMemoryBytes,
	}

	for _, c := range collectors {
		// Already registered by promauto.
		err := prometheus.Register(c)
		var are prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &are)
	}
}
