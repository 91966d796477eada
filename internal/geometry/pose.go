package geometry

import "math"

// Pose is a head orientation estimate in degrees.
type Pose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Slice returns the pose as yaw, pitch, roll.
func (p Pose) Slice() []float64 {
	return []float64{p.Yaw, p.Pitch, p.Roll}
}

// PoseFromSlice is the inverse of Slice.
func PoseFromSlice(v []float64) Pose {
	if len(v) != 3 {
		return Pose{}
	}
	return Pose{Yaw: v[0], Pitch: v[1], Roll: v[2]}
}

// HeadPose estimates orientation from the nose tip position inside the
// cheek-to-cheek and forehead-to-chin spans, plus the tilt of the line
// between the outer eye corners. Values are absolute but only meaningful
// relative to a calibrated neutral pose.
func HeadPose(pts []Point) (Pose, bool) {
	if !has(pts, NoseTip, Chin, Forehead, LeftCheek, RightCheek, LeftEyeOuter, RightEyeOuter) {
		return Pose{}, false
	}
	nose := pts[NoseTip]
	lc, rc := pts[LeftCheek], pts[RightCheek]
	top, chin := pts[Forehead], pts[Chin]

	faceWidth := rc.X - lc.X
	faceHeight := chin.Y - top.Y
	if math.Abs(faceWidth) < minPositive || math.Abs(faceHeight) < minPositive {
		return Pose{}, false
	}

	h := (nose.X-lc.X)/faceWidth*2 - 1
	v := (nose.Y-top.Y)/faceHeight*2 - 1

	le, re := pts[LeftEyeOuter], pts[RightEyeOuter]
	return Pose{
		Yaw:   degrees(math.Asin(clamp(h, -1, 1))),
		Pitch: degrees(math.Asin(clamp(v, -1, 1))),
		Roll:  degrees(math.Atan2(re.Y-le.Y, re.X-le.X)),
	}, true
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
