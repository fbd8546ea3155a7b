package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SwapMetrics records settlement engine activity: request counts segmented
// by outcome and a latency distribution per operation.
type SwapMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// OracleMetrics records aggregator update outcomes per symbol.
type OracleMetrics struct {
	updates *prometheus.CounterVec
}

// VaultMetrics counts vault lifecycle and balance operations.
type VaultMetrics struct {
	operations *prometheus.CounterVec
}

var (
	swapOnce   sync.Once
	swapReg    *SwapMetrics
	oracleOnce sync.Once
	oracleReg  *OracleMetrics
	vaultOnce  sync.Once
	vaultReg   *VaultMetrics
)

// Swap returns the lazily-initialised settlement metrics registry.
func Swap() *SwapMetrics {
	swapOnce.Do(func() {
		swapReg = &SwapMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapnet",
				Subsystem: "engine",
				Name:      "requests_total",
				Help:      "Swap engine operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swapnet",
				Subsystem: "engine",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for swap engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(swapReg.requests, swapReg.latency)
	})
	return swapReg
}

// Observe records one engine operation.
func (m *SwapMetrics) Observe(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleOnce.Do(func() {
		oracleReg = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapnet",
				Subsystem: "oracle",
				Name:      "updates_total",
				Help:      "Oracle update attempts segmented by symbol and outcome.",
			}, []string{"symbol", "outcome"}),
		}
		prometheus.MustRegister(oracleReg.updates)
	})
	return oracleReg
}

// ObserveUpdate records one aggregator update attempt.
func (m *OracleMetrics) ObserveUpdate(symbol string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.updates.WithLabelValues(symbol, outcome).Inc()
}

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultReg = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapnet",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
		}
		prometheus.MustRegister(vaultReg.operations)
	})
	return vaultReg
}

// ObserveOp records one vault operation.
func (m *VaultMetrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}
