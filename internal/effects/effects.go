package effects

import (
	"fmt"
	"image"

	"github.com/ivlev/reframe/internal/config"
)

// Effect produces the ffmpeg video filter chain for one output clip
type Effect interface {
	GenerateFilter(params config.ClipParams) string
}

// ResizeEffect scales the whole frame to the output size. With Pad the
// aspect ratio is preserved and the remainder is letterboxed.
type ResizeEffect struct {
	Pad bool
}

func (e ResizeEffect) GenerateFilter(p config.ClipParams) string {
	if !e.Pad {
		return fmt.Sprintf("scale=%d:%d:flags=lanczos,setsar=1", p.Width, p.Height)
	}
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		p.Width, p.Height, p.Width, p.Height,
	)
}

// CropEffect cuts a fixed-size window out of the source and scales it to the output.
// The window is static unless End differs from Start (linear drift over the clip)
// or Path holds a piecewise-linear route for the window's top-left corner.
type CropEffect struct {
	Start image.Rectangle
	End   image.Rectangle
	Path  []PathPoint
}

func (e CropEffect) GenerateFilter(p config.ClipParams) string {
	w, h := e.Start.Dx(), e.Start.Dy()
	x := fmt.Sprintf("%d", e.Start.Min.X)
	y := fmt.Sprintf("%d", e.Start.Min.Y)

	switch {
	case len(e.Path) > 1:
		x = PiecewiseLinear(e.Path, func(pt PathPoint) float64 { return pt.X })
		y = PiecewiseLinear(e.Path, func(pt PathPoint) float64 { return pt.Y })
	case !e.End.Empty() && e.End.Min != e.Start.Min && p.Duration > 0:
		x = linearDrift(e.Start.Min.X, e.End.Min.X, p.Duration)
		y = linearDrift(e.Start.Min.Y, e.End.Min.Y, p.Duration)
	}

	return fmt.Sprintf("crop=w=%d:h=%d:x='%s':y='%s',scale=%d:%d:flags=lanczos,setsar=1",
		w, h, x, y, p.Width, p.Height)
}

// linearDrift moves from a to b over duration seconds, then holds b
func linearDrift(a, b int, duration float64) string {
	if a == b {
		return fmt.Sprintf("%d", a)
	}
	return fmt.Sprintf("%d+(%d)*min(t/%.6f,1)", a, b-a, duration)
}
