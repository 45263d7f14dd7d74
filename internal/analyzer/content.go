package analyzer

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ivlev/reframe/internal/config"
)

// ContentDetector runs the face, text, motion and object layers over a frame,
// with a saliency fallback so at least one candidate is always produced.
// Detection coordinates are relative to the frame's top-left corner.
type ContentDetector struct {
	cfg    config.DetectorConfig
	faces  FaceFinder
	text   *textLayer
	logger zerolog.Logger
}

// Option customizes a ContentDetector
type Option func(*options)

type options struct {
	faces FaceFinder
	ocr   OCR
}

// WithFaceFinder injects the face backend instead of loading one from config
func WithFaceFinder(f FaceFinder) Option {
	return func(o *options) { o.faces = f }
}

// WithOCR injects the OCR engine instead of looking up tesseract
func WithOCR(ocr OCR) Option {
	return func(o *options) { o.ocr = ocr }
}

var warned sync.Map

// warnOnce logs a capability problem a single time per process
func warnOnce(logger zerolog.Logger, key string, err error, msg string) {
	if _, loaded := warned.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	logger.Warn().Err(err).Msg(msg)
}

// NewContentDetector negotiates which layers can run. Layers whose dependency
// is missing are disabled, never failing later calls.
func NewContentDetector(cfg config.DetectorConfig, logger zerolog.Logger, opts ...Option) *ContentDetector {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	d := &ContentDetector{
		cfg:    cfg,
		logger: logger.With().Str("component", "detector").Logger(),
	}

	d.faces = o.faces
	if d.faces == nil {
		finder, err := NewFaceFinder(cfg)
		if err != nil {
			warnOnce(d.logger, "faces", err, "face detection disabled")
		} else {
			d.faces = finder
		}
	}

	if cfg.EnableText {
		ocr := o.ocr
		if ocr == nil {
			t, err := NewTesseractOCR(cfg.TesseractPath)
			if err != nil {
				warnOnce(d.logger, "text", err, "text detection disabled")
			} else {
				ocr = t
			}
		}
		if ocr != nil {
			d.text = &textLayer{
				ocr:           ocr,
				edgeThreshold: cfg.EdgeThreshold,
				mergeDistance: cfg.TextMergeDistance,
				logger:        d.logger,
			}
		}
	}

	return d
}

// Capabilities lists the layers that will run
func (d *ContentDetector) Capabilities() []Kind {
	var kinds []Kind
	if d.faces != nil {
		kinds = append(kinds, KindFace)
	}
	if d.text != nil {
		kinds = append(kinds, KindText)
	}
	if d.cfg.EnableMotion {
		kinds = append(kinds, KindMotion)
	}
	if d.cfg.EnableObjects {
		kinds = append(kinds, KindObject)
	}
	return append(kinds, KindSaliency)
}

// DetectAllLayers analyses one frame. prev may be nil, which skips motion.
func (d *ContentDetector) DetectAllLayers(ctx context.Context, frame image.Image, ts float64, prev image.Image) []Detection {
	return d.detect(ctx, frame, ts, prev, 1.0)
}

// DetectScaled analyses a frame downscaled by scale and returns detections in
// source coordinates. Pixel-size rules are applied in source pixels.
func (d *ContentDetector) DetectScaled(ctx context.Context, frame image.Image, ts float64, prev image.Image, scale float64) []Detection {
	detections := d.detect(ctx, frame, ts, prev, scale)
	for i := range detections {
		detections[i] = detections[i].Scaled(scale)
	}
	return detections
}

func (d *ContentDetector) detect(ctx context.Context, frame image.Image, ts float64, prev image.Image, scale float64) []Detection {
	gray := ToGray(frame)

	var detections []Detection

	if d.faces != nil {
		detections = append(detections, detectFaces(d.faces, gray, ts, scale)...)
	}

	if d.text != nil {
		detections = append(detections, d.text.detect(ctx, frame, gray, ts, scale)...)
	}

	if d.cfg.EnableMotion && prev != nil {
		prevGray := ToGray(prev)
		if prevGray.Rect.Size() != gray.Rect.Size() {
			d.logger.Debug().Float64("t", ts).Msg("frame size changed, motion skipped")
		} else {
			detections = append(detections, detectMotion(prevGray, gray, d.cfg.FlowBlock, d.cfg.FlowSearch, ts, scale)...)
		}
	}

	if d.cfg.EnableObjects {
		detections = append(detections, detectObjects(gray, ts, scale)...)
	}

	if len(detections) == 0 {
		detections = append(detections, Saliency(gray, ts))
	}

	return detections
}

// Close releases backend resources held by the face finder
func (d *ContentDetector) Close() error {
	if c, ok := d.faces.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
