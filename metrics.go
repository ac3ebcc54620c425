package csx

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-csx/internal/interfaces"
	"github.com/ehrlich-b/go-csx/internal/uapi"
)

// LatencyBuckets defines the command latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 1h with logarithmic spacing; compute
// dispatches may legitimately run for a long time.
var LatencyBuckets = []uint64{
	1_000,             // 1us
	10_000,            // 10us
	100_000,           // 100us
	1_000_000,         // 1ms
	10_000_000,        // 10ms
	100_000_000,       // 100ms
	1_000_000_000,     // 1s
	10_000_000_000,    // 10s
	3_600_000_000_000, // 1h
}

const numLatencyBuckets = 9

// Family is an admin command family
type Family = uapi.Family

// Command families
const (
	FamilyIdentify   = uapi.FamilyIdentify
	FamilyGet        = uapi.FamilyGet
	FamilyAllocate   = uapi.FamilyAllocate
	FamilyDeallocate = uapi.FamilyDeallocate
	FamilyCompute    = uapi.FamilyCompute
	FamilyComm       = uapi.FamilyComm
	FamilyOpenRelay  = uapi.FamilyOpenRelay
	FamilyCloseRelay = uapi.FamilyCloseRelay
)

// Metrics tracks command channel and relay statistics for a device
type Metrics struct {
	// Command counters by family
	ControlOps atomic.Uint64 // IDENTIFY and GET
	AllocOps   atomic.Uint64 // ALLOCATE and DEALLOCATE
	ComputeOps atomic.Uint64 // COMPUTE
	RelayOps   atomic.Uint64 // COMM, OPEN_RELAY and CLOSE_RELAY

	// Error counters by family
	ControlErrors atomic.Uint64
	AllocErrors   atomic.Uint64
	ComputeErrors atomic.Uint64
	RelayErrors   atomic.Uint64

	// Payload bytes sent with successful commands
	PayloadBytes atomic.Uint64

	// Memory
	AllocatedBytes atomic.Uint64 // Total bytes of successful allocations
	Allocations    atomic.Uint64
	AllocFailures  atomic.Uint64

	// Relay traffic moved by forwarders
	RelayTxBytes  atomic.Uint64 // conn -> device
	RelayRxBytes  atomic.Uint64 // device -> conn
	RelayTxFrames atomic.Uint64
	RelayRxFrames atomic.Uint64

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative command latency in nanoseconds
	OpCount        atomic.Uint64 // Total commands (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of commands with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCommand records one admin command
func (m *Metrics) RecordCommand(family Family, payloadBytes uint64, latencyNs uint64, success bool) {
	ops, errs := m.familyCounters(family)
	ops.Add(1)
	if success {
		m.PayloadBytes.Add(payloadBytes)
	} else {
		errs.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) familyCounters(family Family) (ops, errs *atomic.Uint64) {
	switch family.Base() {
	case FamilyAllocate, FamilyDeallocate:
		return &m.AllocOps, &m.AllocErrors
	case FamilyCompute:
		return &m.ComputeOps, &m.ComputeErrors
	case FamilyComm, FamilyOpenRelay, FamilyCloseRelay:
		return &m.RelayOps, &m.RelayErrors
	default:
		return &m.ControlOps, &m.ControlErrors
	}
}

// RecordAllocation records a device memory allocation attempt
func (m *Metrics) RecordAllocation(bytes uint64, success bool) {
	if success {
		m.Allocations.Add(1)
		m.AllocatedBytes.Add(bytes)
	} else {
		m.AllocFailures.Add(1)
	}
}

// RecordRelayFrame records one frame moved by a forwarder
func (m *Metrics) RecordRelayFrame(inbound bool, bytes uint64) {
	if inbound {
		m.RelayRxFrames.Add(1)
		m.RelayRxBytes.Add(bytes)
	} else {
		m.RelayTxFrames.Add(1)
		m.RelayTxBytes.Add(bytes)
	}
}

// recordLatency records command latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	ControlOps uint64
	AllocOps   uint64
	ComputeOps uint64
	RelayOps   uint64

	ControlErrors uint64
	AllocErrors   uint64
	ComputeErrors uint64
	RelayErrors   uint64

	PayloadBytes uint64

	AllocatedBytes uint64
	Allocations    uint64
	AllocFailures  uint64

	RelayTxBytes  uint64
	RelayRxBytes  uint64
	RelayTxFrames uint64
	RelayRxFrames uint64

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	TotalOps       uint64
	TotalErrors    uint64
	CommandRate    float64 // Commands per second
	RelayBandwidth float64 // Relay bytes per second, both directions
	ErrorRate      float64 // Percentage of failed commands
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ControlOps:     m.ControlOps.Load(),
		AllocOps:       m.AllocOps.Load(),
		ComputeOps:     m.ComputeOps.Load(),
		RelayOps:       m.RelayOps.Load(),
		ControlErrors:  m.ControlErrors.Load(),
		AllocErrors:    m.AllocErrors.Load(),
		ComputeErrors:  m.ComputeErrors.Load(),
		RelayErrors:    m.RelayErrors.Load(),
		PayloadBytes:   m.PayloadBytes.Load(),
		AllocatedBytes: m.AllocatedBytes.Load(),
		Allocations:    m.Allocations.Load(),
		AllocFailures:  m.AllocFailures.Load(),
		RelayTxBytes:   m.RelayTxBytes.Load(),
		RelayRxBytes:   m.RelayRxBytes.Load(),
		RelayTxFrames:  m.RelayTxFrames.Load(),
		RelayRxFrames:  m.RelayRxFrames.Load(),
	}

	snap.TotalOps = snap.ControlOps + snap.AllocOps + snap.ComputeOps + snap.RelayOps
	snap.TotalErrors = snap.ControlErrors + snap.AllocErrors + snap.ComputeErrors + snap.RelayErrors

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.CommandRate = float64(snap.TotalOps) / uptimeSeconds
		snap.RelayBandwidth = float64(snap.RelayTxBytes+snap.RelayRxBytes) / uptimeSeconds
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.ControlOps, &m.AllocOps, &m.ComputeOps, &m.RelayOps,
		&m.ControlErrors, &m.AllocErrors, &m.ComputeErrors, &m.RelayErrors,
		&m.PayloadBytes, &m.AllocatedBytes, &m.Allocations, &m.AllocFailures,
		&m.RelayTxBytes, &m.RelayRxBytes, &m.RelayTxFrames, &m.RelayRxFrames,
		&m.TotalLatencyNs, &m.OpCount,
	} {
		c.Store(0)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection
type Observer = interfaces.Observer

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveCommand(Family, uint64, uint64, bool) {}
func (NoOpObserver) ObserveAllocation(uint64, bool)              {}
func (NoOpObserver) ObserveRelayFrame(bool, uint64)              {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCommand(family Family, payloadBytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordCommand(family, payloadBytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveAllocation(bytes uint64, success bool) {
	o.metrics.RecordAllocation(bytes, success)
}

func (o *MetricsObserver) ObserveRelayFrame(inbound bool, bytes uint64) {
	o.metrics.RecordRelayFrame(inbound, bytes)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
