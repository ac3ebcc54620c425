package csx

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "csx"

// PrometheusCollector exports a Metrics instance to Prometheus. Values are
// read at scrape time, so the hot path only touches atomics.
type PrometheusCollector struct {
	metrics *Metrics
	device  string

	commands       *prometheus.Desc
	commandErrors  *prometheus.Desc
	payloadBytes   *prometheus.Desc
	allocations    *prometheus.Desc
	allocFailures  *prometheus.Desc
	allocatedBytes *prometheus.Desc
	relayBytes     *prometheus.Desc
	relayFrames    *prometheus.Desc
	latency        *prometheus.Desc
	uptime         *prometheus.Desc
}

// NewPrometheusCollector creates a collector for m labelled with device
func NewPrometheusCollector(device string, m *Metrics) *PrometheusCollector {
	labels := prometheus.Labels{"device": device}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, variable, labels)
	}

	return &PrometheusCollector{
		metrics:        m,
		device:         device,
		commands:       desc("admin", "commands_total", "Vendor admin commands issued.", "group"),
		commandErrors:  desc("admin", "command_errors_total", "Vendor admin commands that failed.", "group"),
		payloadBytes:   desc("admin", "payload_bytes_total", "Payload bytes sent with successful commands."),
		allocations:    desc("memory", "allocations_total", "Successful device memory allocations."),
		allocFailures:  desc("memory", "allocation_failures_total", "Failed device memory allocations."),
		allocatedBytes: desc("memory", "allocated_bytes_total", "Bytes of device memory allocated."),
		relayBytes:     desc("relay", "bytes_total", "Bytes moved through relays.", "direction"),
		relayFrames:    desc("relay", "frames_total", "Frames moved through relays.", "direction"),
		latency:        desc("admin", "command_duration_seconds", "Vendor admin command round trip time."),
		uptime:         desc("", "uptime_seconds", "Seconds since metrics collection started."),
	}
}

// Describe implements prometheus.Collector
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.commands, c.commandErrors, c.payloadBytes,
		c.allocations, c.allocFailures, c.allocatedBytes,
		c.relayBytes, c.relayFrames, c.latency, c.uptime,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.commands, s.ControlOps, "control")
	counter(c.commands, s.AllocOps, "memory")
	counter(c.commands, s.ComputeOps, "compute")
	counter(c.commands, s.RelayOps, "relay")
	counter(c.commandErrors, s.ControlErrors, "control")
	counter(c.commandErrors, s.AllocErrors, "memory")
	counter(c.commandErrors, s.ComputeErrors, "compute")
	counter(c.commandErrors, s.RelayErrors, "relay")
	counter(c.payloadBytes, s.PayloadBytes)

	counter(c.allocations, s.Allocations)
	counter(c.allocFailures, s.AllocFailures)
	counter(c.allocatedBytes, s.AllocatedBytes)

	counter(c.relayBytes, s.RelayTxBytes, "tx")
	counter(c.relayBytes, s.RelayRxBytes, "rx")
	counter(c.relayFrames, s.RelayTxFrames, "tx")
	counter(c.relayFrames, s.RelayRxFrames, "rx")

	buckets := make(map[float64]uint64, numLatencyBuckets)
	for i, b := range LatencyBuckets {
		buckets[float64(b)/1e9] = s.LatencyHistogram[i]
	}
	ch <- prometheus.MustNewConstHistogram(c.latency,
		c.metrics.OpCount.Load(), float64(c.metrics.TotalLatencyNs.Load())/1e9, buckets)

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, float64(s.UptimeNs)/1e9)
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
