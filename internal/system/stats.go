package system

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats is a point-in-time view of the machine and this process.
type HostStats struct {
	CPUModel    string
	LogicalCPUs int
	CPUPercent  float64
	MemTotalMB  uint64
	MemUsedPct  float64
	ProcessRSS  uint64 // MB
	Goroutines  int
}

// Snapshot samples CPU usage over interval. Fields that cannot be read on
// this platform stay zero.
func Snapshot(interval time.Duration) HostStats {
	s := HostStats{LogicalCPUs: runtime.NumCPU(), Goroutines: runtime.NumGoroutine()}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	}
	if pct, err := cpu.Percent(interval, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemTotalMB = vm.Total / 1024 / 1024
		s.MemUsedPct = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			s.ProcessRSS = info.RSS / 1024 / 1024
		}
	}
	return s
}

func (s HostStats) String() string {
	model := s.CPUModel
	if model == "" {
		model = "unknown CPU"
	}
	return fmt.Sprintf("%s x%d | CPU %.1f%% | RAM %d MB (%.1f%% used) | RSS %d MB | goroutines %d",
		model, s.LogicalCPUs, s.CPUPercent, s.MemTotalMB, s.MemUsedPct, s.ProcessRSS, s.Goroutines)
}
