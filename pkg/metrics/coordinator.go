package metrics

import "github.com/prometheus/client_golang/prometheus"

// CoordinatorMetrics counts reservation, pricing and offer outcomes.
type CoordinatorMetrics struct {
	reservations  *prometheus.CounterVec
	ledgerRetries prometheus.Counter
	pricingCache  *prometheus.CounterVec
	offers        *prometheus.CounterVec
}

// NewCoordinatorMetrics registers the coordinator metrics on reg. A nil
// registerer yields a no-op recorder.
func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	if reg == nil {
		return &CoordinatorMetrics{}
	}
	m := &CoordinatorMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reservations_total",
			Help:      "Reservation attempts by result.",
		}, []string{"result"}),
		ledgerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "version_conflicts_total",
			Help:      "Optimistic version conflicts retried by the ledger.",
		}),
		pricingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "rule_cache_total",
			Help:      "Pricing rule cache lookups by result.",
		}, []string{"result"}),
		offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "offers_total",
			Help:      "Offer lifecycle events by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.reservations, m.ledgerRetries, m.pricingCache, m.offers)
	return m
}

func (m *CoordinatorMetrics) IncReservation(result string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *CoordinatorMetrics) IncVersionConflict() {
	if m == nil || m.ledgerRetries == nil {
		return
	}
	m.ledgerRetries.Inc()
}

func (m *CoordinatorMetrics) IncPricingCache(result string) {
	if m == nil || m.pricingCache == nil {
		return
	}
	m.pricingCache.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *CoordinatorMetrics) IncOffer(outcome string) {
	if m == nil || m.offers == nil {
		return
	}
	m.offers.WithLabelValues(normalizeLabel(outcome)).Inc()
}
