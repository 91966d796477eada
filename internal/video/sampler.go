package video

import "math"

const sampleEpsilon = 1e-9

// sampler schedules frames at a fixed interval using each frame's
// deterministic timestamp.
type sampler struct {
	interval float64
	index    int
}

func newSampler(targetFPS int) *sampler {
	return &sampler{interval: 1 / float64(targetFPS)}
}

// due reports whether a frame at ts reaches the next scheduled instant.
func (s *sampler) due(ts float64) bool {
	return ts+sampleEpsilon >= float64(s.index)*s.interval
}

// advance moves past the instant covering ts. Jumping to the slot of ts
// keeps the cadence when native frames were dropped.
func (s *sampler) advance(ts float64) {
	next := int(math.Floor(ts/s.interval+sampleEpsilon)) + 1
	s.index = max(s.index+1, next)
}

// frameTimestamp derives a timestamp from the frame ordinal.
func frameTimestamp(index int, fps float64) float64 {
	return float64(index) / fps
}
