package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "duckfed_sessions_active",
	Help: "Number of live conversation sessions",
})

var poolActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "duckfed_pool_connections_active",
	Help: "Number of connection handles currently checked out across all sessions",
})

var poolAcquireTimeoutsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "duckfed_pool_acquire_timeouts_total",
	Help: "Number of connection acquisitions that timed out waiting for the pool",
})

var syncFailuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "duckfed_sync_datasource_failures_total",
	Help: "Number of per-datasource failures during reconciliation",
}, []string{"phase"})
