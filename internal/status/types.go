// Package status collects host vitals for the control API's health report.
package status

// HostMetrics is a point-in-time view of the machine running the loop.
type HostMetrics struct {
	Hostname      string  `json:"hostname,omitempty"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPath      string  `json:"disk_path,omitempty"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
}
