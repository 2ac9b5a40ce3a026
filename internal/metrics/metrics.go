package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	ProgramsCompiled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clsafe_programs_compiled_total",
		Help: "The total number of program compilations by result",
	}, []string{"result"})

	KernelsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clsafe_kernels_built_total",
		Help: "The total number of kernel constructions by result",
	}, []string{"result"})

	KernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clsafe_kernel_launches_total",
		Help: "The total number of kernel launches by result",
	}, []string{"result"})

	// TokenWaitSeconds is labelled by the observation mode: blocking, callback or futex.
	TokenWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clsafe_token_wait_seconds",
		Help:    "Time from launch until completion was observed",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
	}, []string{"mode"})

	FutexClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clsafe_futex_claims_total",
		Help: "The total number of futex wait registrations",
	})

	SharedMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clsafe_shared_memory_bytes",
		Help: "Shared memory currently allocated in bytes",
	})
)

// Result maps an error to a result label value.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
