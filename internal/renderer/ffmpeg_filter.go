package renderer

import (
	"image"

	"github.com/ivlev/reframe/internal/effects"
)

// PanEffect approximates a timeline with a single ffmpeg crop whose window
// follows the keyframe positions at base zoom. Zoom changes are dropped, so
// ffmpeg can render the clip without decoding frames in Go.
func (c *Camera) PanEffect(keyframes []CameraKeyframe) effects.CropEffect {
	var path []effects.PathPoint
	for _, kf := range keyframes {
		r := c.CropRect(kf.Position, 1.0)
		pt := effects.PathPoint{Time: kf.Time, X: float64(r.Min.X), Y: float64(r.Min.Y)}

		// collapse runs of identical positions to their first and last point
		if n := len(path); n > 1 && samePos(path[n-1], pt) && samePos(path[n-2], pt) {
			path[n-1] = pt
			continue
		}
		path = append(path, pt)
	}

	start := c.centerCrop()
	if len(path) > 0 {
		origin := image.Pt(int(path[0].X), int(path[0].Y))
		start = image.Rectangle{Min: origin, Max: origin.Add(start.Size())}
	}
	return effects.CropEffect{Start: start, Path: path}
}

func samePos(a, b effects.PathPoint) bool {
	return a.X == b.X && a.Y == b.Y
}
