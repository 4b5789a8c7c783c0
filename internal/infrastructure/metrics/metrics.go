package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nfse"

// Metrics colectores Prometheus del servicio. Todos los métodos aceptan receptor nil.
type Metrics struct {
	callDuration     *prometheus.HistogramVec
	pollDuration     prometheus.Histogram
	emissionsPolled  *prometheus.CounterVec
	pdfsAttached     prometheus.Counter
	expiringFound    prometheus.Gauge
	notifyFailures   prometheus.Counter
	emissionsCreated *prometheus.CounterVec
}

// New registra los colectores en reg (prometheus.NewRegistry() en tests).
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authority_call_duration_seconds",
			Help:      "Latencia de las llamadas al Sistema Nacional NFS-e por operación y resultado.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"op", "result"}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duración de cada ciclo del poller de estado.",
			Buckets:   prometheus.DefBuckets,
		}),
		emissionsPolled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emissions_polled_total",
			Help:      "Emisiones procesadas por el poller según resultado.",
		}, []string{"outcome"}),
		pdfsAttached: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdfs_attached_total",
			Help:      "PDFs de NFS-e descargados y asociados a su emisión.",
		}),
		expiringFound: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_expiring",
			Help:      "Credenciales activas dentro de la ventana de vencimiento en la última revisión.",
		}),
		notifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_notify_failures_total",
			Help:      "Avisos de vencimiento que no pudieron entregarse.",
		}),
		emissionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emissions_created_total",
			Help:      "Emisiones registradas en el ledger por estado inicial.",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveCall(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(op, result).Observe(d.Seconds())
}

func (m *Metrics) ObservePollCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePolled(outcome string) {
	if m == nil {
		return
	}
	m.emissionsPolled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePDFAttached() {
	if m == nil {
		return
	}
	m.pdfsAttached.Inc()
}

func (m *Metrics) ObserveExpiring(found, failed int) {
	if m == nil {
		return
	}
	m.expiringFound.Set(float64(found))
	m.notifyFailures.Add(float64(failed))
}

func (m *Metrics) ObserveEmissionCreated(status string) {
	if m == nil {
		return
	}
	m.emissionsCreated.WithLabelValues(status).Inc()
}
