package csx

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordCommand(FamilyGet, 0, 1_000_000, true)        // properties, 1ms
	m.RecordCommand(FamilyCompute, 52, 2_000_000, true)   // compute, 2ms
	m.RecordCommand(FamilyComm, 4096, 500_000, false)     // relay write, error
	m.RecordCommand(FamilyAllocate, 0, 100_000, true)     // allocate
	m.RecordCommand(FamilyCompute|1, 52, 1_000_000, true) // userspace compute

	snap = m.Snapshot()

	if snap.ControlOps != 1 {
		t.Errorf("Expected 1 control op, got %d", snap.ControlOps)
	}
	if snap.ComputeOps != 2 {
		t.Errorf("Expected 2 compute ops, got %d", snap.ComputeOps)
	}
	if snap.RelayOps != 1 || snap.RelayErrors != 1 {
		t.Errorf("Expected 1 failed relay op, got %d ops %d errors", snap.RelayOps, snap.RelayErrors)
	}
	if snap.AllocOps != 1 {
		t.Errorf("Expected 1 alloc op, got %d", snap.AllocOps)
	}

	// Only successful commands count payload
	if snap.PayloadBytes != 104 {
		t.Errorf("Expected 104 payload bytes, got %d", snap.PayloadBytes)
	}

	expectedErrorRate := float64(1) / float64(5) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsAllocations(t *testing.T) {
	m := NewMetrics()

	m.RecordAllocation(4096, true)
	m.RecordAllocation(8192, true)
	m.RecordAllocation(MaxAllocSize+1, false)

	snap := m.Snapshot()
	if snap.Allocations != 2 {
		t.Errorf("Expected 2 allocations, got %d", snap.Allocations)
	}
	if snap.AllocatedBytes != 12288 {
		t.Errorf("Expected 12288 allocated bytes, got %d", snap.AllocatedBytes)
	}
	if snap.AllocFailures != 1 {
		t.Errorf("Expected 1 allocation failure, got %d", snap.AllocFailures)
	}
}

func TestMetricsRelayFrames(t *testing.T) {
	m := NewMetrics()

	m.RecordRelayFrame(false, 4096)
	m.RecordRelayFrame(false, 10)
	m.RecordRelayFrame(true, 4092)

	snap := m.Snapshot()
	if snap.RelayTxFrames != 2 || snap.RelayTxBytes != 4106 {
		t.Errorf("Expected 2 tx frames / 4106 bytes, got %d / %d", snap.RelayTxFrames, snap.RelayTxBytes)
	}
	if snap.RelayRxFrames != 1 || snap.RelayRxBytes != 4092 {
		t.Errorf("Expected 1 rx frame / 4092 bytes, got %d / %d", snap.RelayRxFrames, snap.RelayRxBytes)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand(FamilyGet, 0, 1_000_000, true)
	m.RecordCommand(FamilyGet, 0, 2_000_000, true)

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand(FamilyCompute, 52, 1_000_000, true)
	m.RecordAllocation(4096, true)
	m.RecordRelayFrame(true, 100)

	if m.Snapshot().TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.AllocatedBytes != 0 || snap.RelayRxBytes != 0 {
		t.Errorf("Expected byte counters cleared, got alloc=%d rx=%d", snap.AllocatedBytes, snap.RelayRxBytes)
	}
	for i, c := range snap.LatencyHistogram {
		if c != 0 {
			t.Errorf("Expected empty histogram bucket %d, got %d", i, c)
		}
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveCommand(FamilyIdentify, 0, 1000, true)
	observer.ObserveAllocation(4096, true)
	observer.ObserveRelayFrame(true, 10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveCommand(FamilyComm, 100, 1_000_000, true)
	metricsObserver.ObserveAllocation(4096, true)
	metricsObserver.ObserveRelayFrame(false, 100)

	snap := m.Snapshot()
	if snap.RelayOps != 1 {
		t.Errorf("Expected 1 relay op from observer, got %d", snap.RelayOps)
	}
	if snap.Allocations != 1 {
		t.Errorf("Expected 1 allocation from observer, got %d", snap.Allocations)
	}
	if snap.RelayTxBytes != 100 {
		t.Errorf("Expected 100 tx bytes from observer, got %d", snap.RelayTxBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordCommand(FamilyComm, 1024, 1_000_000, true)
	m.RecordRelayFrame(false, 1024)
	m.RecordCommand(FamilyComm, 0, 1_000_000, true)
	m.RecordRelayFrame(true, 1024)

	m.StopTime.Store(startTime.Add(1 * time.Second).UnixNano())

	snap := m.Snapshot()
	if snap.CommandRate < 1.9 || snap.CommandRate > 2.1 {
		t.Errorf("Expected CommandRate ~2.0, got %.2f", snap.CommandRate)
	}
	if snap.RelayBandwidth < 2000 || snap.RelayBandwidth > 2100 {
		t.Errorf("Expected RelayBandwidth ~2048, got %.2f", snap.RelayBandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 commands at 500us, 49 at 5ms, 1 compute at 50ms
	for i := 0; i < 50; i++ {
		m.RecordCommand(FamilyGet, 0, 500_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordCommand(FamilyComm, 4096, 5_000_000, true)
	}
	m.RecordCommand(FamilyCompute, 52, 50_000_000, true)

	snap := m.Snapshot()
	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}
	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}
	if snap.LatencyHistogram[numLatencyBuckets-1] != 100 {
		t.Errorf("Expected last bucket to hold every command, got %d", snap.LatencyHistogram[numLatencyBuckets-1])
	}
}

func TestPrometheusCollector(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand(FamilyCompute, 52, 2_000_000, true)
	m.RecordCommand(FamilyGet, 0, 1_000_000, false)
	m.RecordRelayFrame(true, 4092)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewPrometheusCollector("nvme0", m)); err != nil {
		t.Fatalf("register collector: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["device"] != "nvme0" {
				t.Errorf("%s missing device label", mf.GetName())
			}
			key := mf.GetName() + "/" + labels["group"] + labels["direction"]
			switch {
			case metric.GetCounter() != nil:
				byName[key] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				byName[key] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	checks := map[string]float64{
		"csx_admin_commands_total/compute":       1,
		"csx_admin_commands_total/control":       1,
		"csx_admin_command_errors_total/control": 1,
		"csx_relay_bytes_total/rx":               4092,
		"csx_relay_frames_total/rx":              1,
		"csx_admin_command_duration_seconds/":    2,
	}
	for key, want := range checks {
		if got, ok := byName[key]; !ok || got != want {
			t.Errorf("%s = %v (present=%v), want %v", key, got, ok, want)
		}
	}
}
