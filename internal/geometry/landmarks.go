// Package geometry derives scalar eye, mouth, gaze and head-pose signals
// from normalized 478-point face mesh landmarks.
package geometry

import "math"

// Point is a normalized landmark. X and Y are in [0,1] image space; Z is the
// relative depth reported by the landmark model and may be zero.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Face mesh indices.
var (
	// p1..p6 ordering used by the EAR formula: corner, top, top, corner, bottom, bottom
	LeftEyeEAR  = [6]int{33, 160, 158, 133, 153, 144}
	RightEyeEAR = [6]int{362, 385, 387, 263, 373, 380}

	LeftEyeCorners  = [2]int{33, 133}
	RightEyeCorners = [2]int{362, 263}
	LeftEyeLids     = [2]int{159, 145}
	RightEyeLids    = [2]int{386, 374}
	LeftIris        = []int{468, 469, 470, 471, 472}
	RightIris       = []int{473, 474, 475, 476, 477}

	MouthVertical   = [2]int{13, 14}
	MouthHorizontal = [2]int{61, 291}
)

const (
	NoseTip       = 1
	Chin          = 152
	Forehead      = 10
	LeftCheek     = 234
	RightCheek    = 454
	LeftEyeOuter  = 33
	RightEyeOuter = 263
)

// minPositive guards divisions by degenerate landmark spans.
const minPositive = 1e-6

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func has(pts []Point, idx ...int) bool {
	for _, i := range idx {
		if i < 0 || i >= len(pts) {
			return false
		}
	}
	return true
}

func mean(pts []Point, idx []int) Point {
	var p Point
	for _, i := range idx {
		p.X += pts[i].X
		p.Y += pts[i].Y
		p.Z += pts[i].Z
	}
	n := float64(len(idx))
	return Point{X: p.X / n, Y: p.Y / n, Z: p.Z / n}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
