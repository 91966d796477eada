package metrics

import (
	"vigil/internal/geometry"
)

// faceSpec describes a synthetic frontal face.
type faceSpec struct {
	ear    float64 // both eyes
	mar    float64
	irisDX float64 // iris shift as a fraction of eye width
	noseDX float64 // nose shift in normalized image units
}

func openFace() faceSpec { return faceSpec{ear: 0.3, mar: 0.2} }

func makeFace(f faceSpec) []geometry.Point {
	pts := make([]geometry.Point, 478)
	set := func(i int, x, y float64) { pts[i] = geometry.Point{X: x, Y: y} }

	h := f.ear * 0.2
	// left eye, 0.2 wide
	set(33, 0.30, 0.40)
	set(133, 0.50, 0.40)
	set(160, 0.37, 0.40-h/2)
	set(144, 0.37, 0.40+h/2)
	set(158, 0.43, 0.40-h/2)
	set(153, 0.43, 0.40+h/2)
	set(159, 0.40, 0.38)
	set(145, 0.40, 0.42)
	// right eye, 0.2 wide
	set(362, 0.55, 0.40)
	set(263, 0.75, 0.40)
	set(385, 0.62, 0.40-h/2)
	set(380, 0.62, 0.40+h/2)
	set(387, 0.68, 0.40-h/2)
	set(373, 0.68, 0.40+h/2)
	set(386, 0.65, 0.38)
	set(374, 0.65, 0.42)
	for _, i := range geometry.LeftIris {
		set(i, 0.40+f.irisDX*0.2, 0.40)
	}
	for _, i := range geometry.RightIris {
		set(i, 0.65+f.irisDX*0.2, 0.40)
	}

	m := f.mar * 0.2
	set(61, 0.45, 0.70)
	set(291, 0.65, 0.70)
	set(13, 0.55, 0.70-m/2)
	set(14, 0.55, 0.70+m/2)

	set(geometry.LeftCheek, 0.25, 0.50)
	set(geometry.RightCheek, 0.80, 0.50)
	set(geometry.Forehead, 0.525, 0.20)
	set(geometry.Chin, 0.525, 0.90)
	set(geometry.NoseTip, 0.525+f.noseDX, 0.55)
	return pts
}

func frameWith(f faceSpec) FrameContext {
	return FrameContext{FaceLandmarks: makeFace(f)}
}

func noFace() FrameContext { return FrameContext{} }
