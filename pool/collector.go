package pool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	idleDesc = prometheus.NewDesc(
		"courier_pool_idle_connections",
		"Idle pooled connections per host.",
		[]string{"scheme", "host", "port", "insecure"}, nil,
	)
	busyDesc = prometheus.NewDesc(
		"courier_pool_busy_connections",
		"In-use pooled connections per host.",
		[]string{"scheme", "host", "port", "insecure"}, nil,
	)
	dialsDesc = prometheus.NewDesc(
		"courier_pool_dials_total",
		"Connections opened by the pool.",
		nil, nil,
	)
	reusesDesc = prometheus.NewDesc(
		"courier_pool_reuses_total",
		"Requests served by an idle pooled connection.",
		nil, nil,
	)
	evictionsDesc = prometheus.NewDesc(
		"courier_pool_evictions_total",
		"Connections closed by the pool.",
		nil, nil,
	)
)

// Collector exports pool state to Prometheus.
//
// Example:
//
//	prometheus.MustRegister(client.Pool().Collector())
func (p *Pool) Collector() prometheus.Collector {
	return collector{p}
}

type collector struct{ p *Pool }

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- idleDesc
	ch <- busyDesc
	ch <- dialsDesc
	ch <- reusesDesc
	ch <- evictionsDesc
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	s := c.p.Stats()

	for k, hs := range s.Hosts {
		labels := []string{k.Scheme, k.Host, strconv.Itoa(k.Port), strconv.FormatBool(k.Insecure)}
		ch <- prometheus.MustNewConstMetric(idleDesc, prometheus.GaugeValue, float64(hs.Idle), labels...)
		ch <- prometheus.MustNewConstMetric(busyDesc, prometheus.GaugeValue, float64(hs.Busy), labels...)
	}
	ch <- prometheus.MustNewConstMetric(dialsDesc, prometheus.CounterValue, float64(s.Dials))
	ch <- prometheus.MustNewConstMetric(reusesDesc, prometheus.CounterValue, float64(s.Reuses))
	ch <- prometheus.MustNewConstMetric(evictionsDesc, prometheus.CounterValue, float64(s.Evictions))
}
