// Package smoothing damps per-frame landmark jitter with exponential moving
// averages that tolerate short observation gaps.
package smoothing

import "fmt"

// EMA smooths a scalar signal.
type EMA struct {
	alpha      float64
	maxMissing int

	value   float64
	has     bool
	missing int
}

// NewEMA creates a scalar filter. alpha must be in (0,1] and maxMissing >= 0.
func NewEMA(alpha float64, maxMissing int) (*EMA, error) {
	if err := validate(alpha, maxMissing); err != nil {
		return nil, err
	}
	return &EMA{alpha: alpha, maxMissing: maxMissing}, nil
}

// Update feeds one frame. ok=false marks the observation as absent, in which
// case the last smoothed value is held for up to maxMissing frames.
func (e *EMA) Update(v float64, ok bool) (float64, bool) {
	if !ok {
		return e.handleMissing()
	}
	e.missing = 0
	if !e.has {
		e.value = v
		e.has = true
		return v, true
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value, true
}

// Observe is shorthand for Update(v, true).
func (e *EMA) Observe(v float64) float64 {
	out, _ := e.Update(v, true)
	return out
}

// Missing is shorthand for Update(0, false).
func (e *EMA) Missing() (float64, bool) {
	return e.Update(0, false)
}

func (e *EMA) handleMissing() (float64, bool) {
	e.missing++
	if e.missing <= e.maxMissing {
		return e.value, e.has
	}
	// gap too long: drop the baseline so the next value starts fresh
	e.missing = 0
	e.has = false
	e.value = 0
	return 0, false
}

// Reset clears all state.
func (e *EMA) Reset() {
	e.value = 0
	e.has = false
	e.missing = 0
}

// Vector smooths a fixed-length vector element-wise.
type Vector struct {
	alpha      float64
	maxMissing int

	value   []float64
	missing int
}

// NewVector creates a vector filter with the same parameter rules as NewEMA.
func NewVector(alpha float64, maxMissing int) (*Vector, error) {
	if err := validate(alpha, maxMissing); err != nil {
		return nil, err
	}
	return &Vector{alpha: alpha, maxMissing: maxMissing}, nil
}

// Update feeds one frame; a nil slice marks the observation as absent. The
// returned slice is owned by the caller. A length change between calls
// restarts the baseline.
func (f *Vector) Update(v []float64) []float64 {
	if v == nil {
		f.missing++
		if f.missing <= f.maxMissing {
			return clone(f.value)
		}
		f.missing = 0
		f.value = nil
		return nil
	}

	f.missing = 0
	if f.value == nil || len(f.value) != len(v) {
		f.value = clone(v)
		return clone(v)
	}
	for i, x := range v {
		f.value[i] = f.alpha*x + (1-f.alpha)*f.value[i]
	}
	return clone(f.value)
}

// Reset clears all state.
func (f *Vector) Reset() {
	f.value = nil
	f.missing = 0
}

func validate(alpha float64, maxMissing int) error {
	if !(alpha > 0 && alpha <= 1) {
		return fmt.Errorf("smoothing alpha must be in (0,1], got %v", alpha)
	}
	if maxMissing < 0 {
		return fmt.Errorf("smoothing max missing must be >= 0, got %d", maxMissing)
	}
	return nil
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
