// Package sysinfo samples the host resources that feed the node score:
// memory, CPU, and accelerator memory. CPU and memory come from gopsutil;
// GPU numbers are read from nvidia-smi when present.
package sysinfo

import (
	"context"
	"log/slog"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one point-in-time resource reading. A zero GPU section with
// GPUAvailable false means no accelerator was found; that is not an error.
type Sample struct {
	MemoryTotal   uint64
	MemoryUsed    uint64
	MemoryPercent float64

	CPUPercent float64

	GPUAvailable     bool
	GPUMemoryTotal   uint64 // MiB
	GPUMemoryUsed    uint64 // MiB
	GPUMemoryPercent float64
}

// Probe samples memory, CPU, and GPU state. Individual probe failures are
// logged and leave the corresponding fields zero so a degraded host still
// heartbeats.
func Probe(ctx context.Context) Sample {
	var s Sample

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		slog.Warn("sysinfo: memory probe failed", "error", err)
	} else {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryPercent = vm.UsedPercent
	}

	// Interval 0 measures utilisation since the previous call instead of
	// blocking the heartbeat for a sampling window.
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		slog.Warn("sysinfo: cpu probe failed", "error", err)
	} else if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	if gpu, err := probeGPU(ctx); err != nil {
		slog.Debug("sysinfo: gpu probe failed", "error", err)
	} else {
		s.GPUAvailable = gpu.available
		s.GPUMemoryTotal = gpu.memoryTotal
		s.GPUMemoryUsed = gpu.memoryUsed
		s.GPUMemoryPercent = gpu.memoryPercent
	}

	return s
}
