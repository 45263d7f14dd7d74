package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os/exec"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// OCR recognizes the text content of an image region
type OCR interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// TesseractOCR shells out to the tesseract CLI, one process per region
type TesseractOCR struct {
	path string
}

// NewTesseractOCR resolves the tesseract binary, failing when it is not installed
func NewTesseractOCR(binary string) (*TesseractOCR, error) {
	if binary == "" {
		binary = "tesseract"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("tesseract not available: %w", err)
	}
	return &TesseractOCR{path: path}, nil
}

func (t *TesseractOCR) Recognize(ctx context.Context, img image.Image) (string, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return "", fmt.Errorf("encode region: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.path, "stdin", "stdout", "--psm", "6")
	cmd.Stdin = &in

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w\nstderr: %s", err, stderr.String())
	}
	return out.String(), nil
}

const (
	textGridSize        = 8
	textGridDensity     = 0.08
	textMinRegions      = 3
	textMinChars        = 3
	textLargeAreaRatio  = 0.02
	textTitleMaxWords   = 4
	textConfidenceChars = 20.0
	codePunctuation     = "{}();=<>[]"
)

// textLayer proposes candidate text regions and OCRs each of them
type textLayer struct {
	ocr           OCR
	edgeThreshold float64
	mergeDistance int
	logger        zerolog.Logger
}

func (l *textLayer) detect(ctx context.Context, frame image.Image, gray *image.Gray, ts, scale float64) []Detection {
	regions := l.propose(gray, scale)
	frameArea := float64(gray.Rect.Dx() * gray.Rect.Dy())
	origin := frame.Bounds().Min

	var detections []Detection
	for _, r := range regions {
		region := subImage(frame, r.Add(origin))
		raw, err := l.ocr.Recognize(ctx, region)
		if err != nil {
			l.logger.Debug().Err(err).Stringer("region", r).Msg("ocr failed, region dropped")
			continue
		}

		text := strings.Join(strings.Fields(raw), " ")
		if countNonSpace(text) < textMinChars {
			continue
		}

		large := float64(r.Dx()*r.Dy()) > textLargeAreaRatio*frameArea
		code := strings.ContainsAny(text, codePunctuation)

		priority := PriorityText
		switch {
		case large || isTitleLike(text):
			priority = PriorityTitleText
		case code:
			priority = PriorityCodeText
		}

		confidence := math.Min(float64(len(text))/textConfidenceChars, 1.0)
		detections = append(detections, NewDetection(r, confidence, priority, ts, TextMeta{
			Text:  text,
			Code:  code,
			Large: large,
		}))
	}

	return detections
}

// propose finds text-like regions from dilated Sobel edges, falling back to a grid scan
func (l *textLayer) propose(gray *image.Gray, scale float64) []image.Rectangle {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	edges := Sobel(gray, l.edgeThreshold)
	dilated := Dilate(edges, 5, 2)

	var boxes []image.Rectangle
	for _, c := range FindContours(dilated) {
		if isTextBox(c.Rect, w, h) {
			boxes = append(boxes, c.Rect)
		}
	}
	boxes = mergeNearby(boxes, scaledMinSize(l.mergeDistance, scale))

	if len(boxes) < textMinRegions {
		for _, cell := range GridCells(w, h, textGridSize) {
			area := cell.Dx() * cell.Dy()
			if area == 0 {
				continue
			}
			if float64(CountEdges(edges, cell))/float64(area) >= textGridDensity {
				boxes = append(boxes, cell)
			}
		}
	}

	return boxes
}

// isTextBox filters components to plausible text lines or blocks
func isTextBox(r image.Rectangle, frameW, frameH int) bool {
	if r.Dx() < 16 || r.Dy() < 8 {
		return false
	}
	if r.Dy() > frameH/2 || r.Dx() > frameW*95/100 {
		return false
	}
	return r.Dx()*2 >= r.Dy()
}

// mergeNearby unions boxes whose centers lie within dist pixels of each other
func mergeNearby(boxes []image.Rectangle, dist int) []image.Rectangle {
	if dist <= 0 || len(boxes) < 2 {
		return boxes
	}
	limit := float64(dist)

	merged := append([]image.Rectangle(nil), boxes...)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(merged) && !changed; i++ {
			for j := i + 1; j < len(merged); j++ {
				a, b := center(merged[i]), center(merged[j])
				if math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y)) <= limit {
					merged[i] = merged[i].Union(merged[j])
					merged = append(merged[:j], merged[j+1:]...)
					changed = true
					break
				}
			}
		}
	}
	return merged
}

// isTitleLike reports short text whose words are all capitalised or upper case
func isTitleLike(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 || len(words) > textTitleMaxWords {
		return false
	}
	for _, w := range words {
		first := []rune(w)[0]
		if !unicode.IsUpper(first) && !unicode.IsDigit(first) {
			return false
		}
	}
	return true
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// subImage returns the region of img, copying when the type has no SubImage
func subImage(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
