package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// SystemInfo reports host resource usage for the coordinator process
type SystemInfo struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	MemoryUsedBytes    uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	DiskUsagePercent   float64 `json:"disk_usage_percent"`
	DiskUsedBytes      uint64  `json:"disk_used_bytes"`
	DiskTotalBytes     uint64  `json:"disk_total_bytes"`
	Goroutines         int     `json:"goroutines"`
	GoVersion          string  `json:"go_version"`
	UptimeSeconds      int64   `json:"uptime_seconds"`
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := SystemInfo{
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		info.CPUUsagePercent = percentages[0]
	} else if err != nil {
		logrus.WithError(err).Debug("Failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryUsagePercent = vm.UsedPercent
		info.MemoryUsedBytes = vm.Used
		info.MemoryTotalBytes = vm.Total
	} else {
		logrus.WithError(err).Debug("Failed to read memory usage")
	}

	if usage, err := disk.Usage(s.config.DataDir); err == nil {
		info.DiskUsagePercent = usage.UsedPercent
		info.DiskUsedBytes = usage.Used
		info.DiskTotalBytes = usage.Total
	} else {
		logrus.WithError(err).Debug("Failed to read disk usage")
	}

	s.writeJSON(w, info)
}
