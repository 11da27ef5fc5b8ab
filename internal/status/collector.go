package status

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const gb = 1024 * 1024 * 1024

// cpuSample is how long Collect measures CPU utilization for.
const cpuSample = 100 * time.Millisecond

// CollectorConfig holds configuration for the host collector.
type CollectorConfig struct {
	// DiskPath is the filesystem whose usage is reported (default: "/").
	// Point it at the job store's directory.
	DiskPath string

	// Clock measures uptime (default: real clock)
	Clock clockwork.Clock
}

// Collector gathers host metrics. Metrics that cannot be read are left zero.
type Collector struct {
	diskPath  string
	clock     clockwork.Clock
	startTime time.Time
}

// NewCollector creates a collector; uptime counts from this call.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Collector{
		diskPath:  cfg.DiskPath,
		clock:     cfg.Clock,
		startTime: cfg.Clock.Now(),
	}
}

// Collect samples memory, CPU and disk usage.
func (c *Collector) Collect(ctx context.Context) HostMetrics {
	m := HostMetrics{
		UptimeSeconds: int64(c.clock.Since(c.startTime).Seconds()),
		DiskPath:      c.diskPath,
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		m.Hostname = info.Hostname
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsedGB = float64(v.Used) / gb
		m.MemoryTotalGB = float64(v.Total) / gb
		m.MemoryPercent = v.UsedPercent
	}

	if percentages, err := cpu.PercentWithContext(ctx, cpuSample, false); err == nil && len(percentages) > 0 {
		m.CPUPercent = percentages[0]
	}

	if d, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		m.DiskUsedGB = float64(d.Used) / gb
		m.DiskTotalGB = float64(d.Total) / gb
		m.DiskPercent = d.UsedPercent
	}

	return m
}
