package geometry

import "math"

// EyeAspectRatio returns the EAR of one eye given its six indices.
func EyeAspectRatio(pts []Point, idx [6]int) (float64, bool) {
	if !has(pts, idx[:]...) {
		return 0, false
	}
	width := dist(pts[idx[0]], pts[idx[3]])
	if width < minPositive {
		return 0, false
	}
	v1 := dist(pts[idx[1]], pts[idx[5]])
	v2 := dist(pts[idx[2]], pts[idx[4]])
	return (v1 + v2) / (2 * width), true
}

// AverageEAR averages the EAR of whichever eyes can be measured.
func AverageEAR(pts []Point) (float64, bool) {
	var sum float64
	var n int
	for _, idx := range [][6]int{LeftEyeEAR, RightEyeEAR} {
		if ear, ok := EyeAspectRatio(pts, idx); ok {
			sum += ear
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// MouthAspectRatio is inner-lip height over mouth-corner width.
func MouthAspectRatio(pts []Point) (float64, bool) {
	if !has(pts, MouthVertical[0], MouthVertical[1], MouthHorizontal[0], MouthHorizontal[1]) {
		return 0, false
	}
	width := dist(pts[MouthHorizontal[0]], pts[MouthHorizontal[1]])
	if width < minPositive {
		return 0, false
	}
	return dist(pts[MouthVertical[0]], pts[MouthVertical[1]]) / width, true
}

// GazeRatio locates the iris center inside the eye box. X runs from the
// first corner to the second, Y from the upper lid to the lower lid; (0.5,
// 0.5) is a centered iris.
func GazeRatio(pts []Point, corners, lids [2]int, iris []int) ([]float64, bool) {
	if !has(pts, corners[0], corners[1], lids[0], lids[1]) || !has(pts, iris...) {
		return nil, false
	}
	c0, c1 := pts[corners[0]], pts[corners[1]]
	upper, lower := pts[lids[0]], pts[lids[1]]
	width := c1.X - c0.X
	height := lower.Y - upper.Y
	if math.Abs(width) < minPositive || math.Abs(height) < minPositive {
		return nil, false
	}
	center := mean(pts, iris)
	return []float64{(center.X - c0.X) / width, (center.Y - upper.Y) / height}, true
}

// LeftGazeRatio is GazeRatio for the left eye landmarks.
func LeftGazeRatio(pts []Point) ([]float64, bool) {
	return GazeRatio(pts, LeftEyeCorners, LeftEyeLids, LeftIris)
}

// RightGazeRatio is GazeRatio for the right eye landmarks.
func RightGazeRatio(pts []Point) ([]float64, bool) {
	return GazeRatio(pts, RightEyeCorners, RightEyeLids, RightIris)
}
