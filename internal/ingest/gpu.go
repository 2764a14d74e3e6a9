package ingest

import "math"

const (
	defaultPerWorkerGB = 2.5
	defaultHardCap     = 4
)

// ComputeGPUWorkers sizes the GPU worker pool from available VRAM and
// CPU parallelism: workers = min(floor(vram_gb*0.85 / per_worker_gb),
// cpu_cores, hard_cap), floored at 1 so a single-accelerator box
// always makes progress.
func ComputeGPUWorkers(vramGB float64, cpuCores int, perWorkerGB float64, hardCap int) int {
	if perWorkerGB <= 0 {
		perWorkerGB = defaultPerWorkerGB
	}
	if hardCap <= 0 {
		hardCap = defaultHardCap
	}
	if cpuCores <= 0 {
		cpuCores = 1
	}

	byVRAM := int(math.Floor(vramGB * 0.85 / perWorkerGB))

	workers := byVRAM
	if cpuCores < workers {
		workers = cpuCores
	}
	if hardCap < workers {
		workers = hardCap
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
