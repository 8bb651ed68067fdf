package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "agenda"

// SchedulingMetrics exposes counters/histograms for availability, booking and
// lifecycle flows.
type SchedulingMetrics struct {
	availabilityTotal *prometheus.CounterVec
	slotsReturned     prometheus.Histogram
	bookingsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	sideEffectsTotal  *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "availability_requests_total",
			Help:      "Availability computations by outcome",
		}, []string{"outcome"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slots_returned",
			Help:      "Number of slots returned per availability request",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by origin and outcome",
		}, []string{"origin", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by target status and outcome",
		}, []string{"to", "outcome"}),
		sideEffectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "side_effects_total",
			Help:      "Post-commit side effects by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityTotal, m.slotsReturned, m.bookingsTotal, m.transitionsTotal, m.sideEffectsTotal)
	return m
}

func (m *SchedulingMetrics) ObserveAvailability(outcome string, slots int) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.slotsReturned.Observe(float64(slots))
	}
}

func (m *SchedulingMetrics) ObserveBooking(origin, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(origin, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to, outcome).Inc()
}

// ObserveSideEffect counts notification, calendar and history work done after commit.
func (m *SchedulingMetrics) ObserveSideEffect(kind, outcome string) {
	if m == nil {
		return
	}
	m.sideEffectsTotal.WithLabelValues(kind, outcome).Inc()
}

// CalendarMetrics exposes counters/histograms for calendar synchronization.
type CalendarMetrics struct {
	syncTotal       *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

func NewCalendarMetrics(reg prometheus.Registerer) *CalendarMetrics {
	m := &CalendarMetrics{
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "sync_total",
			Help:      "Appointment sync attempts by result",
		}, []string{"result"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "token_refresh_total",
			Help:      "OAuth token refreshes by outcome",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "provider_latency_seconds",
			Help:      "Latency of calendar provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.syncTotal, m.refreshTotal, m.providerLatency)
	return m
}

func (m *CalendarMetrics) ObserveSync(result string) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(result).Inc()
}

func (m *CalendarMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *CalendarMetrics) ObserveProviderLatency(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(operation, status).Observe(seconds)
}
