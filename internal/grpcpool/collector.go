package grpcpool

import "github.com/prometheus/client_golang/prometheus"

type metricsSource interface {
	Metrics() Metrics
}

type collector struct {
	src metricsSource

	total, active, available, healthy, max *prometheus.Desc
	connErrors, healthFailures, lastCheck  *prometheus.Desc
}

// Collector exposes the pool's Metrics snapshot to Prometheus.
func (p *Pool[H]) Collector(namespace string, labels prometheus.Labels) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, labels)
	}
	return &collector{
		src:            p,
		total:          desc("connections", "Connections held by the pool"),
		active:         desc("connections_active", "Connections checked out"),
		available:      desc("connections_available", "Idle connections ready for use"),
		healthy:        desc("connections_healthy", "Connections in the healthy state"),
		max:            desc("connections_max", "Configured connection ceiling"),
		connErrors:     desc("connection_errors_total", "Failed connection attempts"),
		healthFailures: desc("health_check_failures_total", "Failed health probes"),
		lastCheck:      desc("last_health_check_timestamp_seconds", "Unix time of the last health check"),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.total, c.active, c.available, c.healthy, c.max, c.connErrors, c.healthFailures, c.lastCheck} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()

	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(m.Total))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(m.Active))
	ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(m.Available))
	ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, float64(m.Healthy))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(m.Max))
	ch <- prometheus.MustNewConstMetric(c.connErrors, prometheus.CounterValue, float64(m.ConnectionErrors))
	ch <- prometheus.MustNewConstMetric(c.healthFailures, prometheus.CounterValue, float64(m.HealthCheckFailures))

	var last float64
	if !m.LastHealthCheck.IsZero() {
		last = float64(m.LastHealthCheck.UnixNano()) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.lastCheck, prometheus.GaugeValue, last)
}
