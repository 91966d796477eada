package video

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"vigil/internal/metrics"
)

// Summary aggregates the per-frame metrics of a job.
type Summary struct {
	PERCLOSMean    float64            `json:"perclos_mean"`
	PERCLOSMax     float64            `json:"perclos_max"`
	EARMean        *float64           `json:"ear_mean,omitempty"`
	EARStdDev      *float64           `json:"ear_stddev,omitempty"`
	YawnCount      int                `json:"yawn_count"`
	AlertFrames    map[string]int     `json:"alert_frames"`
	AlertFractions map[string]float64 `json:"alert_fractions"`
}

// Summarize computes job statistics. frames must be non-empty.
func Summarize(frames []FrameResult) *Summary {
	s := &Summary{
		AlertFrames:    make(map[string]int, len(metrics.AllAlerts)),
		AlertFractions: make(map[string]float64, len(metrics.AllAlerts)),
	}
	var perclos, ear []float64
	for _, f := range frames {
		m := f.Metrics
		if m.EyeClosure != nil {
			perclos = append(perclos, m.EyeClosure.PERCLOS)
			if m.EyeClosure.EAR != nil {
				ear = append(ear, *m.EyeClosure.EAR)
			}
		}
		if m.Yawn != nil {
			s.YawnCount = max(s.YawnCount, m.Yawn.YawnCount)
		}
		for _, a := range m.ActiveAlerts() {
			s.AlertFrames[a]++
		}
	}

	if len(perclos) > 0 {
		s.PERCLOSMean = stat.Mean(perclos, nil)
		s.PERCLOSMax = floats.Max(perclos)
	}
	if len(ear) > 0 {
		mean, std := stat.MeanStdDev(ear, nil)
		s.EARMean = &mean
		if len(ear) > 1 {
			s.EARStdDev = &std
		}
	}
	for _, a := range metrics.AllAlerts {
		n := s.AlertFrames[a]
		s.AlertFrames[a] = n
		s.AlertFractions[a] = float64(n) / float64(len(frames))
	}
	return s
}
