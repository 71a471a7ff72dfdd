package monitoring

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	maxFrameWorkers = 16
	lowMemoryMB     = 1024
)

type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryPercent float64 `json:"memory_percent"`
	NumGoroutines int     `json:"goroutines"`
	DiskPath      string  `json:"disk_path,omitempty"`
	DiskFreeGB    float64 `json:"disk_free_gb,omitempty"`
	DiskTotalGB   float64 `json:"disk_total_gb,omitempty"`
	DiskPercent   float64 `json:"disk_used_percent,omitempty"`
}

func StartMonitoring(interval time.Duration, diskPath string) {
	go func() {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			log.Printf("[Monitor] Error getting process: %v", err)
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			usage, err := getResourceUsage(proc, diskPath)
			if err != nil {
				log.Printf("[Monitor] Error getting resource usage: %v", err)
				continue
			}

			log.Printf("[Monitor] CPU: %.2f%%, Memory: %.2f/%.2f MB (%.2f%%), Disk free: %.1f GB, Goroutines: %d",
				usage.CPUPercent,
				usage.MemoryUsedMB,
				usage.MemoryTotalMB,
				usage.MemoryPercent,
				usage.DiskFreeGB,
				usage.NumGoroutines)
		}
	}()
}

// CurrentUsage samples this process and the filesystem holding diskPath
func CurrentUsage(diskPath string) (ResourceUsage, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("error getting process: %v", err)
	}
	return getResourceUsage(proc, diskPath)
}

func getResourceUsage(proc *process.Process, diskPath string) (ResourceUsage, error) {
	var usage ResourceUsage

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return usage, fmt.Errorf("error getting CPU usage: %v", err)
	}
	usage.CPUPercent = cpuPercent

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("error getting memory info: %v", err)
	}

	procMem, err := proc.MemoryInfo()
	if err != nil {
		return usage, fmt.Errorf("error getting process memory: %v", err)
	}

	usage.MemoryUsedMB = float64(procMem.RSS) / 1024 / 1024
	usage.MemoryTotalMB = float64(virtualMem.Total) / 1024 / 1024
	usage.MemoryPercent = float64(procMem.RSS) / float64(virtualMem.Total) * 100
	usage.NumGoroutines = runtime.NumGoroutine()

	if diskPath != "" {
		if du, err := disk.Usage(diskPath); err == nil {
			usage.DiskPath = diskPath
			usage.DiskFreeGB = float64(du.Free) / 1024 / 1024 / 1024
			usage.DiskTotalGB = float64(du.Total) / 1024 / 1024 / 1024
			usage.DiskPercent = du.UsedPercent
		}
	}

	return usage, nil
}

// FrameWorkers sizes the still extraction pool: two per logical CPU, capped,
// halved when the host is short on memory.
func FrameWorkers() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	n := cores * 2
	if n > maxFrameWorkers {
		n = maxFrameWorkers
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available/1024/1024 < lowMemoryMB {
		n /= 2
	}
	if n < 1 {
		n = 1
	}
	return n
}
