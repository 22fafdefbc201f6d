package topology

import (
	"github.com/gholt/segring"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "segring"

// Metrics holds the Prometheus collectors a Manager reports to. Every
// collector is labeled with the cache scope.
type Metrics struct {
	// TopologyID is the id of the latest topology.
	TopologyID *prometheus.GaugeVec
	// Members is the member count of the latest topology.
	Members *prometheus.GaugeVec
	// Rebalancing is 1 while a rebalance is in progress.
	Rebalancing *prometheus.GaugeVec

	RebalancesStarted   *prometheus.CounterVec
	RebalancesConfirmed *prometheus.CounterVec

	// RebalanceDuration observes seconds from a rebalance starting to it
	// being confirmed.
	RebalanceDuration *prometheus.HistogramVec

	// MovedOwners counts segment copies new owners had to receive.
	MovedOwners *prometheus.CounterVec

	// OwnedSegments and PrimarySegments report the current hash, per member.
	OwnedSegments   *prometheus.GaugeVec
	PrimarySegments *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg; it panics
// if they're already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TopologyID: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "topology_id",
				Help:      "Id of the latest cache topology.",
			},
			[]string{"scope"},
		),
		Members: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "members",
				Help:      "Number of members in the latest cache topology.",
			},
			[]string{"scope"},
		),
		Rebalancing: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rebalancing",
				Help:      "1 while a rebalance is in progress, 0 otherwise.",
			},
			[]string{"scope"},
		),
		RebalancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalances_started_total",
				Help:      "Total number of rebalances started.",
			},
			[]string{"scope"},
		),
		RebalancesConfirmed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalances_confirmed_total",
				Help:      "Total number of rebalances confirmed.",
			},
			[]string{"scope"},
		),
		RebalanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rebalance_duration_seconds",
				Help:      "Time from a rebalance starting to its confirmation, in seconds.",
				Buckets:   []float64{0.01, 0.1, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"scope"},
		),
		MovedOwners: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moved_owners_total",
				Help:      "Total number of segment copies assigned to new owners by rebalances.",
			},
			[]string{"scope"},
		),
		OwnedSegments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "owned_segments",
				Help:      "Segments owned by each member in the current hash.",
			},
			[]string{"scope", "member"},
		),
		PrimarySegments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "primary_segments",
				Help:      "Segments each member is primary owner of in the current hash.",
			},
			[]string{"scope", "member"},
		),
	}
	reg.MustRegister(
		m.TopologyID,
		m.Members,
		m.Rebalancing,
		m.RebalancesStarted,
		m.RebalancesConfirmed,
		m.RebalanceDuration,
		m.MovedOwners,
		m.OwnedSegments,
		m.PrimarySegments,
	)
	return m
}

// observe updates the gauges for a new topology.
func (m *Metrics) observe(scope string, t *CacheTopology) {
	m.TopologyID.WithLabelValues(scope).Set(float64(t.TopologyID))
	m.Members.WithLabelValues(scope).Set(float64(len(t.Members)))
	if t.Phase == NoRebalance {
		m.Rebalancing.WithLabelValues(scope).Set(0)
	} else {
		m.Rebalancing.WithLabelValues(scope).Set(1)
	}
	m.OwnedSegments.DeletePartialMatch(prometheus.Labels{"scope": scope})
	m.PrimarySegments.DeletePartialMatch(prometheus.Labels{"scope": scope})
	if t.Current == nil {
		return
	}
	stats := segring.NewOwnershipStatistics(t.Current)
	for _, a := range t.Current.Members() {
		m.OwnedSegments.WithLabelValues(scope, a.String()).Set(float64(stats.Owned(a)))
		m.PrimarySegments.WithLabelValues(scope, a.String()).Set(float64(stats.PrimaryOwned(a)))
	}
}
