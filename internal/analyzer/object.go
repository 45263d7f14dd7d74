package analyzer

import (
	"image"
	"sort"
)

// Canny hysteresis thresholds shared by the object layer and activity tracking
const (
	CannyLow  = 50
	CannyHigh = 150
)

const (
	objectMinArea     = 1000
	objectMaxFraction = 0.5
	objectMaxCount    = 5
	objectConfidence  = 0.6
)

// detectObjects extracts generic object candidates from closed edge contours.
// The minimum area is in source pixels (source = analysis * scale).
func detectObjects(gray *image.Gray, ts, scale float64) []Detection {
	if scale <= 0 {
		scale = 1.0
	}
	frameArea := gray.Rect.Dx() * gray.Rect.Dy()
	edges := Dilate(Canny(gray, CannyLow, CannyHigh), 3, 1)

	var candidates []Component
	for _, c := range FindContours(edges) {
		area := c.Rect.Dx() * c.Rect.Dy()
		if float64(area)*scale*scale < objectMinArea || float64(area) > objectMaxFraction*float64(frameArea) {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ai := candidates[i].Rect.Dx() * candidates[i].Rect.Dy()
		aj := candidates[j].Rect.Dx() * candidates[j].Rect.Dy()
		return ai > aj
	})
	if len(candidates) > objectMaxCount {
		candidates = candidates[:objectMaxCount]
	}

	detections := make([]Detection, 0, len(candidates))
	for _, c := range candidates {
		area := c.Rect.Dx() * c.Rect.Dy()
		detections = append(detections, NewDetection(c.Rect, objectConfidence, PriorityObject, ts, ObjectMeta{Area: area}))
	}
	return detections
}
