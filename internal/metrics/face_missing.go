package metrics

// FaceMissingTracker flags a missing face once landmarks have been absent
// for a minimum number of frames; it clears as soon as they return.
type FaceMissingTracker struct {
	minFrames int
	frames    int
}

func NewFaceMissingTracker(sec, fps float64) *FaceMissingTracker {
	return &FaceMissingTracker{minFrames: Frames(sec, fps)}
}

func (t *FaceMissingTracker) Update(ctx FrameContext) bool {
	if ctx.HasFace() {
		t.frames = 0
		return false
	}
	t.frames++
	return t.frames >= t.minFrames
}

func (t *FaceMissingTracker) Reset() {
	t.frames = 0
}
