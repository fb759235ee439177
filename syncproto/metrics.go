package syncproto

import "github.com/prometheus/client_golang/prometheus"

// Each round emits SyncProgress events and increments these Prometheus
// counters (discret_sync_rows_sent_total, discret_sync_rows_committed_total,
// discret_sync_faults_total{peer}, discret_sync_rounds_total).
var (
	syncRowsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "sync", Name: "rows_sent_total",
		Help: "Rows sent in response to a Request during a sync round's Transfer step.",
	})
	syncRowsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "sync", Name: "rows_committed_total",
		Help: "Rows committed during a sync round's Commit step.",
	})
	syncFaultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "sync", Name: "faults_total",
		Help: "Rows rejected during Transfer for failing signature or authorization checks, by source peer.",
	}, []string{"peer"})
	syncRoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "sync", Name: "rounds_total",
		Help: "Reconciliation rounds completed (reached Idle).",
	})
)

func init() {
	prometheus.MustRegister(syncRowsSent, syncRowsCommitted, syncFaultsTotal, syncRoundsTotal)
}
