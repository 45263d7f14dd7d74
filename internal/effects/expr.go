package effects

import (
	"fmt"
	"strings"
)

// PathPoint is a crop window position at a point in time
type PathPoint struct {
	Time float64
	X, Y float64
}

// PiecewiseLinear builds an ffmpeg expression in t that interpolates the
// selected coordinate linearly between consecutive points and holds the
// end values outside the path.
func PiecewiseLinear(points []PathPoint, coord func(PathPoint) float64) string {
	if len(points) == 0 {
		return "0"
	}
	if len(points) == 1 {
		return fmt.Sprintf("%.3f", coord(points[0]))
	}

	var expr strings.Builder
	open := 0

	fmt.Fprintf(&expr, "if(lte(t,%.6f),%.3f,", points[0].Time, coord(points[0]))
	open++

	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		span := b.Time - a.Time
		if span <= 0 {
			continue
		}

		// Linear interpolation between keyframes
		fmt.Fprintf(&expr, "if(lte(t,%.6f),%.3f+(t-%.6f)/%.6f*(%.3f),",
			b.Time, coord(a), a.Time, span, coord(b)-coord(a))
		open++
	}

	fmt.Fprintf(&expr, "%.3f", coord(points[len(points)-1]))
	expr.WriteString(strings.Repeat(")", open))

	return expr.String()
}
