package renderer

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/nfnt/resize"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/director"
)

// Camera turns focus targets into a smooth virtual camera path over a source
// frame and renders crops of that path at the output size.
type Camera struct {
	cfg    config.CameraConfig
	frame  image.Point
	output image.Point
	base   image.Point
}

// NewCamera creates a camera for frame-sized sources rendered at output size
func NewCamera(cfg config.CameraConfig, frame, output image.Point) *Camera {
	return &Camera{
		cfg:    cfg,
		frame:  frame,
		output: output,
		base:   BaseCrop(frame, output),
	}
}

// BaseCrop is the largest rectangle with the output aspect ratio that fits the frame
func BaseCrop(frame, output image.Point) image.Point {
	if frame.X <= 0 || frame.Y <= 0 || output.X <= 0 || output.Y <= 0 {
		return frame
	}

	frameAspect := float64(frame.X) / float64(frame.Y)
	outAspect := float64(output.X) / float64(output.Y)

	if frameAspect > outAspect {
		w := int(math.Round(float64(frame.Y) * outAspect))
		return image.Pt(min(w, frame.X), frame.Y)
	}
	h := int(math.Round(float64(frame.X) / outAspect))
	return image.Pt(frame.X, min(h, frame.Y))
}

func (c *Camera) Frame() image.Point  { return c.frame }
func (c *Camera) Output() image.Point { return c.output }
func (c *Camera) Base() image.Point   { return c.base }

// OptimalZoom is the preferred zoom for framing a detection of this kind
func OptimalZoom(det analyzer.Detection) float64 {
	switch m := det.Meta.(type) {
	case analyzer.FaceMeta:
		return 1.2
	case analyzer.TextMeta:
		if m.Large {
			return 1.0
		}
		return 1.3
	case analyzer.MotionMeta:
		if m.Cursor {
			return 1.4
		}
		return 1.0
	case analyzer.ObjectMeta:
		return 1.1
	default:
		return 1.0
	}
}

func (c *Camera) clampZoom(z float64) float64 {
	return clamp(z, c.cfg.MinZoom, c.cfg.MaxZoom)
}

func (c *Camera) center() Vec {
	return Vec{X: float64(c.frame.X) / 2, Y: float64(c.frame.Y) / 2}
}

// transitionDuration estimates how long a move takes at the configured speeds
func (c *Camera) transitionDuration(dist, dz float64) float64 {
	d := 0.0
	if c.cfg.MaxPanSpeed > 0 {
		d = dist / c.cfg.MaxPanSpeed
	}
	if c.cfg.MaxZoomSpeed > 0 {
		d = math.Max(d, dz/c.cfg.MaxZoomSpeed)
	}
	return clamp(d+0.5, c.cfg.MinTransition, c.cfg.MaxTransition)
}

// GenerateTimeline synthesizes camera keyframes for targets over a clip of the given duration.
// The timeline always starts at 0, ends at or after duration and never goes back in time.
func (c *Camera) GenerateTimeline(targets []*director.FocusTarget, duration float64) []CameraKeyframe {
	pos := c.center()
	zoom := c.clampZoom(1.0)

	keyframes := []CameraKeyframe{{Time: 0, Position: pos, Zoom: zoom, Movement: MovementHold, Target: "start"}}
	lastTime := func() float64 { return keyframes[len(keyframes)-1].Time }

	for i, target := range targets {
		start := math.Max(target.Since, lastTime())
		if start >= duration {
			break
		}

		goal := Vec{
			X: clamp(float64(target.Detection.Center.X), 0, float64(c.frame.X)),
			Y: clamp(float64(target.Detection.Center.Y), 0, float64(c.frame.Y)),
		}
		goalZoom := c.clampZoom(OptimalZoom(target.Detection))
		label := fmt.Sprintf("%s p=%d", target.Detection.Kind(), target.FinalPriority)

		dist := pos.Dist(goal)
		dz := math.Abs(goalZoom - zoom)
		panning := dist > c.cfg.PanThreshold
		zooming := dz > c.cfg.ZoomThreshold

		if panning || zooming {
			movement := MovementPanZoom
			switch {
			case !zooming:
				movement = MovementPan
			case !panning:
				movement = MovementZoom
			}

			if start > lastTime() {
				keyframes = append(keyframes, CameraKeyframe{Time: start, Position: pos, Zoom: zoom, Movement: MovementHold, Target: label})
			}

			td := c.transitionDuration(dist, dz)
			samples := int(math.Ceil(td * c.cfg.SamplesPerSecond))
			if samples < 3 {
				samples = 3
			}
			for k := 1; k <= samples; k++ {
				f := float64(k) / float64(samples)
				e := easeInOutCubic(f)
				keyframes = append(keyframes, CameraKeyframe{
					Time:     start + td*f,
					Position: Vec{X: lerp(pos.X, goal.X, e), Y: lerp(pos.Y, goal.Y, e)},
					Zoom:     lerp(zoom, goalZoom, e),
					Movement: movement,
					Target:   label,
				})
			}
		} else {
			// hold the old framing until the target starts, then settle in place
			if start > lastTime() {
				keyframes = append(keyframes, CameraKeyframe{Time: start, Position: pos, Zoom: zoom, Movement: MovementHold, Target: label})
			}
			keyframes = append(keyframes, CameraKeyframe{Time: start, Position: goal, Zoom: goalZoom, Movement: MovementHold, Target: label})
		}

		pos, zoom = goal, goalZoom

		holdEnd := duration
		if i < len(targets)-1 {
			holdEnd = math.Min(target.HoldUntil, targets[i+1].Since)
		}
		if holdEnd > lastTime() {
			keyframes = append(keyframes, CameraKeyframe{Time: holdEnd, Position: pos, Zoom: zoom, Movement: MovementHold, Target: label})
		}
	}

	if lastTime() < duration {
		keyframes = append(keyframes, CameraKeyframe{Time: duration, Position: pos, Zoom: zoom, Movement: MovementHold, Target: "end"})
	}

	return keyframes
}

// CropRect is the source rectangle seen by the camera at pos and zoom,
// always inside the frame. Degenerate input yields the centred base crop.
func (c *Camera) CropRect(pos Vec, zoom float64) image.Rectangle {
	if !pos.valid() || math.IsNaN(zoom) || zoom <= 0 {
		return c.centerCrop()
	}
	zoom = c.clampZoom(zoom)

	w := min(int(math.Round(float64(c.base.X)/zoom)), c.frame.X)
	h := min(int(math.Round(float64(c.base.Y)/zoom)), c.frame.Y)
	if w <= 0 || h <= 0 {
		return c.centerCrop()
	}

	x := int(math.Round(pos.X - float64(w)/2))
	y := int(math.Round(pos.Y - float64(h)/2))
	x = max(0, min(x, c.frame.X-w))
	y = max(0, min(y, c.frame.Y-h))

	return image.Rect(x, y, x+w, y+h)
}

func (c *Camera) centerCrop() image.Rectangle {
	w, h := c.base.X, c.base.Y
	x := (c.frame.X - w) / 2
	y := (c.frame.Y - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// ApplyDynamicCrop renders the camera view of frame at time t at the output size
func (c *Camera) ApplyDynamicCrop(frame image.Image, keyframes []CameraKeyframe, t float64) image.Image {
	pos, zoom := InterpolateAt(keyframes, t)
	bounds := frame.Bounds()

	r := c.CropRect(pos, zoom).Add(bounds.Min).Intersect(bounds)
	if r.Empty() {
		r = c.centerCrop().Add(bounds.Min).Intersect(bounds)
	}

	return resize.Resize(uint(c.output.X), uint(c.output.Y), cropImage(frame, r), resize.Lanczos3)
}

func cropImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
