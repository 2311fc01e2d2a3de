package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the scheduling engine.
type BookingMetrics struct {
	createTotal     *prometheus.CounterVec
	rescheduleTotal *prometheus.CounterVec
	commitRaceLost  prometheus.Counter
	recommendCount  prometheus.Histogram
	httpDuration    *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "create_total",
			Help:      "Booking create attempts by outcome",
		}, []string{"outcome"}),
		rescheduleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "reschedule_total",
			Help:      "Booking reschedule attempts by outcome",
		}, []string{"outcome"}),
		commitRaceLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "commit_race_lost_total",
			Help:      "Conflicts found by the in-transaction re-check after a clean pre-check",
		}),
		recommendCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "recommendations_returned",
			Help:      "Number of alternative slots returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10},
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createTotal, m.rescheduleTotal, m.commitRaceLost, m.recommendCount, m.httpDuration)
	return m
}

func (m *BookingMetrics) ObserveCreate(outcome string) {
	if m == nil {
		return
	}
	m.createTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveReschedule(outcome string) {
	if m == nil {
		return
	}
	m.rescheduleTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCommitRaceLost() {
	if m == nil {
		return
	}
	m.commitRaceLost.Inc()
}

func (m *BookingMetrics) ObserveRecommendations(count int) {
	if m == nil {
		return
	}
	m.recommendCount.Observe(float64(count))
}

func (m *BookingMetrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}
