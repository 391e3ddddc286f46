package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	RecordsIngested prometheus.Counter
	RecordsFailed   prometheus.Counter
	DetectFailures  prometheus.Counter
	AlertsRaised    prometheus.Counter
	AlertsDropped   prometheus.Counter
	PublishFailures prometheus.Counter
	WindowQuerySec  prometheus.Histogram
	WindowCount     prometheus.Histogram
	ReportsBuilt    prometheus.Counter
	ReportFailures  prometheus.Counter
	ReplaySent      prometheus.Counter
	ReplayFailed    prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	ingested := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_records_ingested_total"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_records_failed_total"})
	detectFail := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_detect_failures_total"})
	raised := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_alerts_raised_total"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_alerts_suppressed_total"})
	pubFail := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_publish_failures_total"})
	querySec := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clickstream_window_query_seconds",
		Buckets: prometheus.DefBuckets,
	})
	windowCount := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clickstream_window_event_count",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 16, 32, 64},
	})
	reports := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_reports_generated_total"})
	reportFail := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_report_failures_total"})
	sent := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_replay_sent_total"})
	sendFail := prometheus.NewCounter(prometheus.CounterOpts{Name: "clickstream_replay_failed_total"})

	r.MustRegister(ingested, failed, detectFail, raised, dropped, pubFail, querySec, windowCount, reports, reportFail, sent, sendFail)
	return &Registry{
		reg:             r,
		RecordsIngested: ingested,
		RecordsFailed:   failed,
		DetectFailures:  detectFail,
		AlertsRaised:    raised,
		AlertsDropped:   dropped,
		PublishFailures: pubFail,
		WindowQuerySec:  querySec,
		WindowCount:     windowCount,
		ReportsBuilt:    reports,
		ReportFailures:  reportFail,
		ReplaySent:      sent,
		ReplayFailed:    sendFail,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
