package cropper

import (
	"context"
	"image"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/source"
)

const activityGrid = 4

// sampleFractions spreads face samples over the clip, denser for longer clips
func sampleFractions(duration float64) []float64 {
	switch {
	case duration <= 10:
		return []float64{0.25, 0.5, 0.75}
	case duration <= 30:
		return []float64{0.15, 0.4, 0.65, 0.9}
	default:
		return []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	}
}

var activityFractions = []float64{0.25, 0.5, 0.75}

// sample reads and downscales the frame at fraction f of the clip.
// A frame that cannot be read even at the adjacent timestamp is skipped.
func (c *Cropper) sample(ctx context.Context, src source.FrameSource, f float64) (image.Image, float64, bool, error) {
	t := f * src.Info().Duration
	frame, _, err := source.FrameAtWithRetry(ctx, src, t, c.cfg.RetryStep)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, false, ctx.Err()
		}
		c.logger.Debug().Err(err).Float64("t", t).Msg("sample skipped")
		return nil, 0, false, nil
	}

	small, scale := analyzer.Downscale(frame, c.cfg.AnalysisWidth)
	return small, scale, true, nil
}

// trackPerson frames the largest face found across the samples so it sits on
// the upper third line of the crop.
func (c *Cropper) trackPerson(ctx context.Context, src source.FrameSource, crop image.Point) (start, end image.Point, ok bool, err error) {
	if c.faces == nil {
		return start, end, false, nil
	}
	frame := src.Info().Size()

	var (
		largest     image.Rectangle
		first, last image.Rectangle
	)
	for _, f := range sampleFractions(src.Info().Duration) {
		img, scale, read, err := c.sample(ctx, src, f)
		if err != nil {
			return start, end, false, err
		}
		if !read {
			continue
		}

		face, found := analyzer.LargestFace(c.faces.FindFaces(analyzer.ToGray(img), scale))
		if !found {
			continue
		}
		face = analyzer.ScaleRect(face, scale)

		if !ok {
			first = face
		}
		last = face
		if !ok || area(face) > area(largest) {
			largest = face
		}
		ok = true
	}

	if !ok {
		return start, end, false, nil
	}

	start = facePosition(largest, frame, crop)
	end = start
	if c.cfg.Interpolate {
		start = facePosition(first, frame, crop)
		end = facePosition(last, frame, crop)
	}
	return start, end, true, nil
}

func facePosition(face image.Rectangle, frame, crop image.Point) image.Point {
	cx := (face.Min.X + face.Max.X) / 2
	cy := (face.Min.Y + face.Max.Y) / 2
	return clampPosition(cx-crop.X/2, cy-crop.Y/3, frame, crop)
}

// trackActivity centres the crop on the activity-weighted centroid of the
// busiest grid cell of each sampled frame, scored by Canny edge density.
func (c *Cropper) trackActivity(ctx context.Context, src source.FrameSource, crop image.Point) (start, end image.Point, ok bool, err error) {
	frame := src.Info().Size()

	var (
		sumX, sumY, total float64
		first, last       image.Point
	)
	for _, f := range activityFractions {
		img, scale, read, err := c.sample(ctx, src, f)
		if err != nil {
			return start, end, false, err
		}
		if !read {
			continue
		}

		hot, weight := hottestCell(analyzer.ToGray(img))
		if weight <= 0 {
			continue
		}

		cx := float64(hot.Min.X+hot.Max.X) / 2 * scale
		cy := float64(hot.Min.Y+hot.Max.Y) / 2 * scale
		sumX += cx * weight
		sumY += cy * weight
		total += weight

		p := image.Pt(int(cx), int(cy))
		if !ok {
			first = p
		}
		last = p
		ok = true
	}

	if !ok || total == 0 {
		return start, end, false, nil
	}

	start = activityPosition(image.Pt(int(sumX/total), int(sumY/total)), frame, crop)
	end = start
	if c.cfg.Interpolate {
		start = activityPosition(first, frame, crop)
		end = activityPosition(last, frame, crop)
	}
	return start, end, true, nil
}

func activityPosition(p, frame, crop image.Point) image.Point {
	return clampPosition(p.X-crop.X/2, p.Y-crop.Y/2, frame, crop)
}

// hottestCell returns the grid cell with the highest edge density; the first wins ties
func hottestCell(gray *image.Gray) (image.Rectangle, float64) {
	edges := analyzer.Canny(gray, analyzer.CannyLow, analyzer.CannyHigh)

	var best image.Rectangle
	bestDensity := 0.0
	for _, cell := range analyzer.GridCells(gray.Rect.Dx(), gray.Rect.Dy(), activityGrid) {
		if cell.Empty() {
			continue
		}
		density := float64(analyzer.CountEdges(edges, cell)) / float64(area(cell))
		if density > bestDensity {
			best, bestDensity = cell, density
		}
	}
	return best, bestDensity
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
