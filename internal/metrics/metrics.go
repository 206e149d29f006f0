package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "cycles_total",
		Help:      "Distribution cycles by final outcome.",
	}, []string{"outcome"})

	ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "claims_total",
		Help:      "Creator-fee claim attempts by result.",
	}, []string{"result"})

	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "batches_total",
		Help:      "Disbursement batch submissions by status.",
	}, []string{"status"})

	LamportsDistributed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "lamports_distributed_total",
		Help:      "Total lamports carried by accepted disbursement batches.",
	})

	HoldersProcessed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "creatorsplit",
		Name:      "holders_processed",
		Help:      "Eligible holders in the most recent snapshot.",
	})

	DASPagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "das_pages_fetched",
		Help:      "Holder index pages fetched.",
	})

	SnapshotTruncated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "snapshot_truncated_total",
		Help:      "Holder snapshots cut short by the page cap.",
	})

	PriorityFee = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "creatorsplit",
		Name:      "priority_fee_micro_lamports",
		Help:      "Compute unit price attached to the most recent transaction.",
	})

	LastCycleTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "creatorsplit",
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time the most recent cycle finished.",
	})

	PersistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "creatorsplit",
		Name:      "persistence_errors_total",
		Help:      "State store writes that failed after funds moved.",
	})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		ClaimsTotal,
		BatchesTotal,
		LamportsDistributed,
		HoldersProcessed,
		DASPagesFetched,
		SnapshotTruncated,
		PriorityFee,
		LastCycleTimestamp,
		PersistenceErrors,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
