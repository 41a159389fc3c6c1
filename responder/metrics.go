package responder

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func desc(fqName, help string) *prometheus.Desc {
	return prometheus.NewDesc(fqName, help, nil, prometheus.Labels{})
}

func intGauge(desc *prometheus.Desc, val int) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(val))
}

func uint64Counter(desc *prometheus.Desc, val uint64) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(val))
}

type metric struct {
	*prometheus.Desc
	collect func(*Handle, *prometheus.Desc, chan<- prometheus.Metric)
}

var metrics = []metric{
	{desc("herald_registered_services", "Number of live service registrations."),
		func(h *Handle, d *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- intGauge(d, h.reg.count())
		}},
	{desc("herald_queries_total", "Number of mDNS queries received."),
		func(h *Handle, d *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(d, atomic.LoadUint64(&h.fsm.stats.queries))
		}},
	{desc("herald_responses_total", "Number of responses sent."),
		func(h *Handle, d *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(d, atomic.LoadUint64(&h.fsm.stats.responses))
		}},
	{desc("herald_announcements_total", "Number of registrations announced."),
		func(h *Handle, d *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(d, atomic.LoadUint64(&h.fsm.stats.announcements))
		}},
	{desc("herald_parse_errors_total", "Number of inbound datagrams dropped as unparseable."),
		func(h *Handle, d *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(d, atomic.LoadUint64(&h.fsm.stats.parseErrors))
		}},
	{desc("herald_send_errors_total", "Number of outbound datagrams that failed to send."),
		func(h *Handle, d *prometheus.Desc, ch chan<- prometheus.Metric) {
			ch <- uint64Counter(d, atomic.LoadUint64(&h.fsm.stats.sendErrors))
		}},
}

type collector struct {
	h *Handle
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range metrics {
		ch <- m.Desc
	}
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range metrics {
		m.collect(c.h, m.Desc, ch)
	}
}

// MetricsHandler returns an HTTP handler exposing the responder's
// Prometheus metrics.
func (h *Handle) MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector{h: h})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
