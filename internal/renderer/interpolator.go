package renderer

import "math"

// Vec is a sub-pixel position in source frame coordinates
type Vec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Dist returns the Euclidean distance between two positions
func (v Vec) Dist(o Vec) float64 {
	return math.Hypot(v.X-o.X, v.Y-o.Y)
}

func (v Vec) valid() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Movement describes how the camera travels into a keyframe
type Movement string

const (
	MovementHold    Movement = "hold"
	MovementPan     Movement = "pan"
	MovementZoom    Movement = "zoom"
	MovementPanZoom Movement = "pan_zoom"
)

// CameraKeyframe is the camera state at one point of the timeline
type CameraKeyframe struct {
	Time     float64  `yaml:"time"`
	Position Vec      `yaml:"position"`
	Zoom     float64  `yaml:"zoom"` // 1.0 = base crop
	Movement Movement `yaml:"movement"`
	Target   string   `yaml:"target,omitempty"`
}

// InterpolateAt returns the camera position and zoom at time t.
// Queries outside the timeline clamp to the first or last keyframe.
func InterpolateAt(keyframes []CameraKeyframe, t float64) (Vec, float64) {
	if len(keyframes) == 0 {
		return Vec{}, 1.0
	}

	first := keyframes[0]
	if t <= first.Time {
		return first.Position, first.Zoom
	}

	last := keyframes[len(keyframes)-1]
	if t >= last.Time {
		return last.Position, last.Zoom
	}

	// Find surrounding keyframes
	prev, next := first, last
	for i := 0; i < len(keyframes)-1; i++ {
		if t >= keyframes[i].Time && t < keyframes[i+1].Time {
			prev, next = keyframes[i], keyframes[i+1]
			break
		}
	}

	span := next.Time - prev.Time
	if span <= 0 {
		return next.Position, next.Zoom
	}
	f := (t - prev.Time) / span

	if next.Movement != MovementHold {
		f = easeInOutCubic(f)
	}

	return Vec{
		X: lerp(prev.Position.X, next.Position.X, f),
		Y: lerp(prev.Position.Y, next.Position.Y, f),
	}, lerp(prev.Zoom, next.Zoom, f)
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// easeInOutCubic applies smooth easing function
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
