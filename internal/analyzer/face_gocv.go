//go:build gocv

package analyzer

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ivlev/reframe/internal/config"
)

func init() {
	RegisterFaceBackend("gocv", func(cfg config.DetectorConfig) (FaceFinder, error) {
		return NewCVFaceFinder(cfg)
	})
}

// CVFaceFinder uses OpenCV Haar cascades. OpenCV classifiers are not
// goroutine-safe, so calls are serialized.
type CVFaceFinder struct {
	mu          sync.Mutex
	faces       gocv.CascadeClassifier
	eyes        *gocv.CascadeClassifier
	scaleFactor float64
	minNeighbor int
	minSize     int
}

// NewCVFaceFinder loads the Haar face cascade (FaceCascade) and the eye cascade (PupilCascade)
func NewCVFaceFinder(cfg config.DetectorConfig) (*CVFaceFinder, error) {
	faces := gocv.NewCascadeClassifier()
	if !faces.Load(cfg.FaceCascade) {
		faces.Close()
		return nil, fmt.Errorf("load face cascade %s", cfg.FaceCascade)
	}

	f := &CVFaceFinder{
		faces:       faces,
		scaleFactor: cfg.FaceScaleFactor,
		minNeighbor: cfg.FaceMinNeighbors,
		minSize:     cfg.FaceMinSize,
	}

	if cfg.PupilCascade != "" {
		eyes := gocv.NewCascadeClassifier()
		if !eyes.Load(cfg.PupilCascade) {
			eyes.Close()
			faces.Close()
			return nil, fmt.Errorf("load eye cascade %s", cfg.PupilCascade)
		}
		f.eyes = &eyes
	}

	return f, nil
}

func (f *CVFaceFinder) FindFaces(gray *image.Gray, scale float64) []image.Rectangle {
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil
	}
	defer mat.Close()

	size := scaledMinSize(f.minSize, scale)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faces.DetectMultiScaleWithParams(mat, f.scaleFactor, f.minNeighbor, 0, image.Pt(size, size), image.Pt(0, 0))
}

func (f *CVFaceFinder) FindEyes(gray *image.Gray, face image.Rectangle) []image.Rectangle {
	if f.eyes == nil {
		return nil
	}

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil
	}
	defer mat.Close()

	roi := mat.Region(face)
	defer roi.Close()

	f.mu.Lock()
	found := f.eyes.DetectMultiScale(roi)
	f.mu.Unlock()

	eyes := make([]image.Rectangle, 0, len(found))
	for _, e := range found {
		eyes = append(eyes, e.Add(face.Min))
	}
	return eyes
}

// Close releases the OpenCV classifiers
func (f *CVFaceFinder) Close() error {
	f.faces.Close()
	if f.eyes != nil {
		f.eyes.Close()
	}
	return nil
}
