package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	ingestTotal    *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	recomputeTotal prometheus.Counter
	recomputeHist  prometheus.Histogram
	aggInstruments prometheus.Gauge
	aggGross       prometheus.Gauge
	contributors   prometheus.Gauge
	publishTotal   *prometheus.CounterVec
	adminTotal     *prometheus.CounterVec
	registrySize   prometheus.Gauge
	cacheSize      prometheus.Gauge
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg (useful for testing).
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ingestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kellymux_ingest_messages_total",
				Help: "Portfolios decoded and delivered to the multiplexer",
			},
			[]string{"backend"},
		),
		decodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kellymux_ingest_decode_errors_total",
				Help: "Ingest payloads dropped because they failed to decode",
			},
			[]string{"backend"},
		),
		rejectedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kellymux_ingest_rejected_total",
				Help: "Portfolios rejected from unregistered producers",
			},
			[]string{"client"},
		),
		recomputeTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kellymux_recompute_total",
			Help: "Full aggregate recomputations",
		}),
		recomputeHist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kellymux_recompute_seconds",
			Help:    "Time spent in one recompute critical section",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		aggInstruments: f.NewGauge(prometheus.GaugeOpts{
			Name: "kellymux_aggregate_instruments",
			Help: "Instruments in the last aggregate portfolio",
		}),
		aggGross: f.NewGauge(prometheus.GaugeOpts{
			Name: "kellymux_aggregate_gross_exposure",
			Help: "Sum of absolute weights in the last aggregate portfolio",
		}),
		contributors: f.NewGauge(prometheus.GaugeOpts{
			Name: "kellymux_aggregate_contributors",
			Help: "Producers contributing to the last aggregate portfolio",
		}),
		publishTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kellymux_publish_total",
				Help: "Aggregate publications by backend and result",
			},
			[]string{"backend", "result"},
		),
		adminTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kellymux_admin_commands_total",
				Help: "Admin commands by command and response status",
			},
			[]string{"cmd", "status"},
		),
		registrySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "kellymux_registry_clients",
			Help: "Registered producers",
		}),
		cacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "kellymux_cached_portfolios",
			Help: "Producers with a cached portfolio",
		}),
	}
}

func (r *Recorder) RecordIngest(backend string) {
	r.ingestTotal.WithLabelValues(backend).Inc()
}

func (r *Recorder) RecordDecodeError(backend string) {
	r.decodeErrors.WithLabelValues(backend).Inc()
}

func (r *Recorder) RecordRejected(clientID string) {
	r.rejectedTotal.WithLabelValues(clientID).Inc()
}

// RecordRecompute records one recompute and the shape of its result.
func (r *Recorder) RecordRecompute(seconds float64, clients, instruments int, gross float64) {
	r.recomputeTotal.Inc()
	r.recomputeHist.Observe(seconds)
	r.contributors.Set(float64(clients))
	r.aggInstruments.Set(float64(instruments))
	r.aggGross.Set(gross)
}

func (r *Recorder) RecordPublish(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.publishTotal.WithLabelValues(backend, result).Inc()
}

func (r *Recorder) RecordAdmin(cmd, status string) {
	r.adminTotal.WithLabelValues(cmd, status).Inc()
}

func (r *Recorder) SetRegistrySize(n int) { r.registrySize.Set(float64(n)) }

func (r *Recorder) SetCacheSize(n int) { r.cacheSize.Set(float64(n)) }
