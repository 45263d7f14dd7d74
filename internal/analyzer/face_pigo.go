package analyzer

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/ivlev/reframe/internal/config"
)

// PigoFaceFinder detects faces with a pigo pixel-intensity cascade and, when a
// pupil cascade is loaded, localizes the eyes inside each face.
type PigoFaceFinder struct {
	classifier  *pigo.Pigo
	pupils      *pigo.PuplocCascade
	minSize     int
	scaleFactor float64
	minQuality  float32
}

// NewPigoFaceFinder unpacks the face cascade and the optional pupil cascade
func NewPigoFaceFinder(faceCascade, pupilCascade []byte, cfg config.DetectorConfig) (*PigoFaceFinder, error) {
	classifier, err := pigo.NewPigo().Unpack(faceCascade)
	if err != nil {
		return nil, fmt.Errorf("unpack face cascade: %w", err)
	}

	f := &PigoFaceFinder{
		classifier:  classifier,
		minSize:     cfg.FaceMinSize,
		scaleFactor: cfg.FaceScaleFactor,
		minQuality:  float32(cfg.FaceMinNeighbors),
	}
	if f.minSize <= 0 {
		f.minSize = 30
	}
	if f.scaleFactor <= 1.0 {
		f.scaleFactor = 1.1
	}

	if len(pupilCascade) > 0 {
		plc, err := pigo.NewPuplocCascade().UnpackCascade(pupilCascade)
		if err != nil {
			return nil, fmt.Errorf("unpack pupil cascade: %w", err)
		}
		f.pupils = plc
	}

	return f, nil
}

// newPigoFromConfig reads the cascade files named in the detector config
func newPigoFromConfig(cfg config.DetectorConfig) (FaceFinder, error) {
	if cfg.FaceCascade == "" {
		return nil, fmt.Errorf("no face cascade configured")
	}
	face, err := os.ReadFile(cfg.FaceCascade)
	if err != nil {
		return nil, fmt.Errorf("read face cascade: %w", err)
	}

	var pupil []byte
	if cfg.PupilCascade != "" {
		pupil, err = os.ReadFile(cfg.PupilCascade)
		if err != nil {
			return nil, fmt.Errorf("read pupil cascade: %w", err)
		}
	}

	return NewPigoFaceFinder(face, pupil, cfg)
}

func imageParams(gray *image.Gray) pigo.ImageParams {
	return pigo.ImageParams{
		Pixels: gray.Pix,
		Rows:   gray.Rect.Dy(),
		Cols:   gray.Rect.Dx(),
		Dim:    gray.Stride,
	}
}

// FindFaces returns clustered face boxes whose detection quality passes the threshold
func (f *PigoFaceFinder) FindFaces(gray *image.Gray, scale float64) []image.Rectangle {
	cols, rows := gray.Rect.Dx(), gray.Rect.Dy()
	maxSize := min(cols, rows)
	minSize := scaledMinSize(f.minSize, scale)
	if maxSize < minSize {
		return nil
	}

	params := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: 0.1,
		ScaleFactor: f.scaleFactor,
		ImageParams: imageParams(gray),
	}

	dets := f.classifier.RunCascade(params, 0.0)
	dets = f.classifier.ClusterDetections(dets, 0.2)

	var faces []image.Rectangle
	for _, d := range dets {
		if d.Q < f.minQuality {
			continue
		}
		half := d.Scale / 2
		faces = append(faces, image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half))
	}
	return faces
}

// FindEyes localizes both pupils of a face; each hit is returned as a small box
func (f *PigoFaceFinder) FindEyes(gray *image.Gray, face image.Rectangle) []image.Rectangle {
	if f.pupils == nil {
		return nil
	}

	scale := float32(face.Dx())
	row := face.Min.Y + face.Dy()/2
	col := face.Min.X + face.Dx()/2
	params := imageParams(gray)

	candidates := []pigo.Puploc{
		{
			Row:      row - int(0.075*scale),
			Col:      col - int(0.175*scale),
			Scale:    scale * 0.25,
			Perturbs: 63,
		},
		{
			Row:      row - int(0.075*scale),
			Col:      col + int(0.185*scale),
			Scale:    scale * 0.25,
			Perturbs: 63,
		},
	}

	var eyes []image.Rectangle
	for _, c := range candidates {
		eye := f.pupils.RunDetector(c, params, 0.0, false)
		if eye == nil || eye.Row <= 0 || eye.Col <= 0 {
			continue
		}
		r := int(eye.Scale / 2)
		if r < 1 {
			r = 1
		}
		eyes = append(eyes, image.Rect(eye.Col-r, eye.Row-r, eye.Col+r, eye.Row+r))
	}
	return eyes
}
