package sysinfo

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// gpuInfo describes the first GPU reported by nvidia-smi.
type gpuInfo struct {
	available     bool
	memoryTotal   uint64 // MiB
	memoryUsed    uint64 // MiB
	memoryPercent float64
}

// probeGPU shells out to nvidia-smi. A missing binary or a non-zero exit is
// treated as "no GPU" by the caller.
func probeGPU(ctx context.Context) (gpuInfo, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total,memory.used",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return gpuInfo{}, fmt.Errorf("sysinfo: run nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads the CSV output of the memory query above. Only the
// first GPU is reported; multi-GPU hosts expose a single accelerator budget
// to the scheduler.
func parseNvidiaSMI(out string) (gpuInfo, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return gpuInfo{}, fmt.Errorf("sysinfo: malformed nvidia-smi line %q", line)
		}
		total, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return gpuInfo{}, fmt.Errorf("sysinfo: parse memory.total: %w", err)
		}
		used, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return gpuInfo{}, fmt.Errorf("sysinfo: parse memory.used: %w", err)
		}

		info := gpuInfo{available: true, memoryTotal: total, memoryUsed: used}
		if total > 0 {
			info.memoryPercent = float64(used) / float64(total) * 100
		}
		return info, nil
	}
	return gpuInfo{}, nil
}
