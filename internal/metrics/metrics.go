package metrics

import (
	"time"

	"github.com/firefart/dmarcanalyzer/internal/analyzer"
	"github.com/firefart/dmarcanalyzer/internal/dmarc"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dmarc"

// Metrics holds the gauges describing a single analysis run. They are
// written once per run to a textfile for the node exporter.
type Metrics struct {
	registry  *prometheus.Registry
	documents prometheus.Gauge
	records   *prometheus.GaugeVec
	failed    *prometheus.GaugeVec
	messages  *prometheus.GaugeVec
	external  *prometheus.GaugeVec
	lastRun   prometheus.Gauge
	caveats   prometheus.Gauge
	skipped   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.documents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reports",
		Help:      "Number of aggregate reports analyzed",
	})
	m.records = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records",
		Help:      "Number of records per processing stage",
	}, []string{"stage"})
	m.failed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "failed_records",
		Help:      "Number of consolidated records not passing a mechanism",
	}, []string{"mechanism"})
	m.messages = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "messages",
		Help:      "Message volume per header_from domain and DMARC result",
	}, []string{"header_from", "dmarc_result"})
	m.external = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "external_domain_results",
		Help:      "Auth results seen for external domains",
	}, []string{"domain", "mechanism", "result"})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last analysis run",
	})
	m.caveats = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alignment_caveats",
		Help:      "Auth results where the public suffix list disagrees with the two label rule",
	})
	m.skipped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "skipped_records",
		Help:      "Number of malformed records that were skipped",
	})

	m.registry.MustRegister(
		m.documents, m.records, m.failed, m.messages,
		m.external, m.lastRun, m.caveats, m.skipped,
	)
	return m
}

// Observe sets all gauges from a run. Statistics are computed over all
// consolidated records, independent of what was displayed.
func (m *Metrics) Observe(res *analyzer.Result, now time.Time) {
	m.documents.Set(float64(res.Documents))
	m.records.WithLabelValues("evaluated").Set(float64(res.Evaluated))
	m.records.WithLabelValues("consolidated").Set(float64(len(res.Consolidated)))
	m.records.WithLabelValues("displayed").Set(float64(len(res.Displayed)))
	m.skipped.Set(float64(res.Skipped))
	m.caveats.Set(float64(len(res.Caveats)))
	m.lastRun.Set(float64(now.Unix()))

	s := dmarc.Summarize(res.Consolidated)
	m.failed.WithLabelValues("spf").Set(float64(s.SPFFailed))
	m.failed.WithLabelValues("dkim").Set(float64(s.DKIMFailed))
	m.failed.WithLabelValues("dmarc").Set(float64(s.DMARCFailed))

	m.messages.Reset()
	for _, r := range res.Consolidated {
		m.messages.WithLabelValues(r.HeaderFrom, r.DMARCResult).Add(float64(r.Count))
	}

	m.external.Reset()
	for _, e := range s.External {
		st := e.Stats
		for result, v := range map[string]int{"pass": st.SPFPass, "softfail": st.SPFSoftfail, "fail": st.SPFFail, "none": st.SPFNone, "other": st.SPFOther} {
			if v > 0 {
				m.external.WithLabelValues(e.Domain, "spf", result).Set(float64(v))
			}
		}
		for result, v := range map[string]int{"pass": st.DKIMPass, "fail": st.DKIMFail, "other": st.DKIMOther} {
			if v > 0 {
				m.external.WithLabelValues(e.Domain, "dkim", result).Set(float64(v))
			}
		}
	}
}

// WriteFile writes the gauges in the Prometheus text format. The file is
// replaced atomically.
func (m *Metrics) WriteFile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.registry)
}
