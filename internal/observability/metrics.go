package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup results
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheError   = "error"
)

// MetricsConfig sets the constant labels of every series.
type MetricsConfig struct {
	ServiceName string
	Environment string
}

// Metrics holds the emitter counters. A nil *Metrics records nothing.
type Metrics struct {
	submissions       *prometheus.CounterVec
	transportFaults   *prometheus.CounterVec
	polls             *prometheus.CounterVec
	certificateCache  *prometheus.CounterVec
	sequenceConflicts prometheus.Counter
	cdrVerifications  *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer, cfg MetricsConfig) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "cpe-emitter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cpe_submissions_total",
			Help:        "Documents and batches sent to the tax authority by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"type", "outcome"}),
		transportFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cpe_transport_faults_total",
			Help:        "Protocol and network faults by normalized fault code.",
			ConstLabels: constLabels,
		}, []string{"code"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cpe_polls_total",
			Help:        "Ticket status polls by returned status code.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		certificateCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cpe_certificate_cache_total",
			Help:        "Certificate cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		sequenceConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cpe_sequence_conflicts_total",
			Help:        "Accepted documents whose reserved sequence differs from the assigned one.",
			ConstLabels: constLabels,
		}),
		cdrVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cpe_cdr_verifications_total",
			Help:        "Response signature verifications by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.submissions,
		m.transportFaults,
		m.polls,
		m.certificateCache,
		m.sequenceConflicts,
		m.cdrVerifications,
	)
	return m
}

// Submission counts one submission attempt
func (m *Metrics) Submission(docType, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(docType, outcome).Inc()
}

// TransportFault counts one fault
func (m *Metrics) TransportFault(code string) {
	if m == nil {
		return
	}
	m.transportFaults.WithLabelValues(code).Inc()
}

// Poll counts one status poll
func (m *Metrics) Poll(status string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(status).Inc()
}

// CertificateCache counts one cache lookup
func (m *Metrics) CertificateCache(result string) {
	if m == nil {
		return
	}
	m.certificateCache.WithLabelValues(result).Inc()
}

// SequenceConflict counts one sequence mismatch
func (m *Metrics) SequenceConflict() {
	if m == nil {
		return
	}
	m.sequenceConflicts.Inc()
}

// CDRVerification counts one response signature check
func (m *Metrics) CDRVerification(result string) {
	if m == nil {
		return
	}
	m.cdrVerifications.WithLabelValues(result).Inc()
}
