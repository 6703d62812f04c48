// Package monitoring logs a periodic resource snapshot so field units can be
// diagnosed from their logs alone.
package monitoring

import (
	"context"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Monitor samples process and host resources on an interval.
type Monitor struct {
	interval    time.Duration
	storagePath string
	proc        *process.Process
}

func NewMonitor(interval time.Duration, storagePath string) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Monitor{interval: interval, storagePath: storagePath, proc: proc}
}

// Run logs snapshots until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logSnapshot()
		}
	}
}

func (m *Monitor) logSnapshot() {
	var cpuPct float64
	var memMB float64
	if m.proc != nil {
		if v, err := m.proc.CPUPercent(); err == nil {
			cpuPct = v
		}
		if mi, err := m.proc.MemoryInfo(); err == nil {
			memMB = float64(mi.RSS) / 1024 / 1024
		}
	}

	var hostMemPct, diskPct float64
	if vm, err := mem.VirtualMemory(); err == nil {
		hostMemPct = vm.UsedPercent
	}
	if du, err := disk.Usage(m.storagePath); err == nil {
		diskPct = du.UsedPercent
	}

	log.Printf("📈 MONITOR: cpu=%.1f%% rss=%.0fMB hostmem=%.1f%% disk=%.1f%% goroutines=%d",
		cpuPct, memMB, hostMemPct, diskPct, runtime.NumGoroutine())
}
