package analyzer

import (
	"image"
	"math"
)

// FaceFinder locates faces and eyes on a grayscale frame.
// Implementations are safe to share between goroutines unless documented otherwise.
type FaceFinder interface {
	// FindFaces searches gray, which may be a downscaled frame (source = gray * scale).
	// The configured minimum face size is in source pixels.
	FindFaces(gray *image.Gray, scale float64) []image.Rectangle
	FindEyes(gray *image.Gray, face image.Rectangle) []image.Rectangle
}

// scaledMinSize converts a source-pixel minimum size to analysis pixels
func scaledMinSize(size int, scale float64) int {
	if scale <= 0 || scale == 1.0 {
		return size
	}
	return max(1, int(math.Ceil(float64(size)/scale)))
}

// faceAreaReference is the fraction of the frame a face must cover for full confidence
const faceAreaReference = 0.05

// detectFaces runs the face layer on a grayscale frame
func detectFaces(finder FaceFinder, gray *image.Gray, ts, scale float64) []Detection {
	frameArea := float64(gray.Rect.Dx() * gray.Rect.Dy())
	if frameArea == 0 {
		return nil
	}

	var detections []Detection
	for _, face := range finder.FindFaces(gray, scale) {
		face = face.Intersect(gray.Rect)
		if face.Empty() {
			continue
		}

		eyes := 0
		for _, eye := range finder.FindEyes(gray, face) {
			if center(eye).In(face) {
				eyes++
			}
		}
		speaking := eyes >= 2

		priority := PriorityStaticFace
		if speaking {
			priority = PrioritySpeakingFace
		}

		area := float64(face.Dx() * face.Dy())
		confidence := area / (faceAreaReference * frameArea)

		detections = append(detections, NewDetection(face, confidence, priority, ts, FaceMeta{
			Speaking: speaking,
			Eyes:     eyes,
		}))
	}

	return detections
}

// LargestFace returns the face with the biggest area, or false when there is none
func LargestFace(faces []image.Rectangle) (image.Rectangle, bool) {
	var best image.Rectangle
	found := false
	for _, f := range faces {
		if f.Empty() {
			continue
		}
		if !found || f.Dx()*f.Dy() > best.Dx()*best.Dy() {
			best = f
			found = true
		}
	}
	return best, found
}
