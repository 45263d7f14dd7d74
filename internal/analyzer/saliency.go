package analyzer

import (
	"context"
	"image"
)

const saliencyGrid = 6

// Saliency returns the single edge-richest cell of a 6x6 grid as a detection.
// A frame with no edges at all yields a whole-frame candidate centred on the frame.
func Saliency(gray *image.Gray, ts float64) Detection {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	edges := Canny(gray, CannyLow, CannyHigh)

	best := image.Rect(0, 0, w, h)
	bestCount := 0
	for _, cell := range GridCells(w, h, saliencyGrid) {
		if n := CountEdges(edges, cell); n > bestCount {
			best, bestCount = cell, n
		}
	}

	confidence := 0.0
	if area := best.Dx() * best.Dy(); area > 0 {
		confidence = float64(bestCount) / float64(area) * 10
	}
	return NewDetection(best, confidence, PrioritySaliency, ts, SaliencyMeta{EdgePixels: bestCount})
}

// SaliencyDetector only runs the saliency layer
type SaliencyDetector struct{}

func (SaliencyDetector) DetectAllLayers(_ context.Context, frame image.Image, ts float64, _ image.Image) []Detection {
	return []Detection{Saliency(ToGray(frame), ts)}
}
