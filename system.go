package main

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type Diagnostic struct {
	Status      string    `json:"status"`
	Backend     string    `json:"backend"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"mem_percent"`
	Subscribers int       `json:"stream_subscribers"`
	Uptime      string    `json:"uptime"`
	Time        time.Time `json:"time"`
}

// hostStats samples CPU over a short window so the endpoint stays fast.
func hostStats(log zerolog.Logger) (cpuPct, memPct float64) {
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPct, 0
	}
	return cpuPct, vm.UsedPercent
}
