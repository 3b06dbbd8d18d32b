// Package health samples host resources and grades them against thresholds.
package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics is one sample of host resources.
type Metrics struct {
	MemoryUsage    float64 `json:"memory_usage"`
	DiskPath       string  `json:"disk_path"`
	DiskUsage      float64 `json:"disk_usage"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	Goroutines     int     `json:"goroutines"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
}

// Collector samples the host and the filesystem holding diskPath.
type Collector struct {
	startTime time.Time
	diskPath  string
}

// NewCollector creates a collector for the filesystem holding diskPath.
func NewCollector(diskPath string) *Collector {
	if diskPath == "" {
		diskPath = "/"
		if runtime.GOOS == "windows" {
			diskPath = "C:\\"
		}
	}
	return &Collector{startTime: time.Now(), diskPath: diskPath}
}

// Collect takes a sample. Memory is best effort; the disk must be readable.
func (c *Collector) Collect(ctx context.Context) (*Metrics, error) {
	m := &Metrics{
		DiskPath:      c.diskPath,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsage = vm.UsedPercent
	}

	du, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return nil, fmt.Errorf("disk usage of %s: %w", c.diskPath, err)
	}
	m.DiskUsage = du.UsedPercent
	m.DiskFreeBytes = du.Free
	m.DiskTotalBytes = du.Total
	return m, nil
}
