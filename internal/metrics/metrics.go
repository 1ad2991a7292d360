// Package metrics collects host resource utilization and exposes it as a
// small set of Prometheus gauges, replacing the
// teacher's agent/internal/metrics.Collect stub (which returned zeros with a
// "TODO: implement with gopsutil" note) with a genuine gopsutil-based
// implementation.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time read of host resource usage, percentages in
// [0, 100].
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Collect samples current host resource usage. diskPath is the filesystem
// to report disk usage for (typically the pilot's work directory).
func Collect(ctx context.Context, diskPath string) (Snapshot, error) {
	var snap Snapshot

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}

	if diskPath == "" {
		diskPath = "/"
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	return snap, nil
}

// Gauges are the ambient Prometheus metrics exposed alongside the pilot's
// heartbeat reporting.
type Gauges struct {
	CPUPercent  prometheus.Gauge
	MemPercent  prometheus.Gauge
	DiskPercent prometheus.Gauge
}

// NewGauges registers the pilot's host-resource gauges on reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	g := &Gauges{
		CPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pilot",
			Subsystem: "host",
			Name:      "cpu_percent",
			Help:      "Current host CPU utilization percentage.",
		}),
		MemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pilot",
			Subsystem: "host",
			Name:      "mem_percent",
			Help:      "Current host memory utilization percentage.",
		}),
		DiskPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pilot",
			Subsystem: "host",
			Name:      "disk_percent",
			Help:      "Current work-directory filesystem utilization percentage.",
		}),
	}
	reg.MustRegister(g.CPUPercent, g.MemPercent, g.DiskPercent)
	return g
}

// Update refreshes the gauges from a freshly collected Snapshot.
func (g *Gauges) Update(s Snapshot) {
	g.CPUPercent.Set(s.CPUPercent)
	g.MemPercent.Set(s.MemPercent)
	g.DiskPercent.Set(s.DiskPercent)
}
