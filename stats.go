package main

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SnapshotStats describes the total-value series of a mode's snapshots.
// MaxDrawdown is the largest peak-to-trough fall, in percent.
type SnapshotStats struct {
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"stddev"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	MaxDrawdown float64 `json:"max_drawdown_pct"`
}

func snapshotStats(snaps []Snapshot) SnapshotStats {
	if len(snaps) == 0 {
		return SnapshotStats{}
	}
	values := make([]float64, len(snaps))
	for i, s := range snaps {
		values[i] = s.TotalValue.InexactFloat64()
	}
	st := SnapshotStats{
		Count:       len(values),
		Mean:        stat.Mean(values, nil),
		Min:         floats.Min(values),
		Max:         floats.Max(values),
		MaxDrawdown: maxDrawdown(values),
	}
	if len(values) > 1 {
		st.StdDev = stat.StdDev(values, nil)
	}
	return st
}

func maxDrawdown(values []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
