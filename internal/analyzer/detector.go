package analyzer

import (
	"context"
	"image"
)

// Kind identifies which detector layer produced a Detection
type Kind string

const (
	KindFace     Kind = "face"
	KindText     Kind = "text"
	KindMotion   Kind = "motion"
	KindObject   Kind = "object"
	KindSaliency Kind = "saliency"
	KindDefault  Kind = "default"
)

// Base priorities assigned by each layer
const (
	PrioritySpeakingFace = 100
	PriorityStaticFace   = 90
	PriorityTitleText    = 90
	PriorityCodeText     = 85
	PriorityText         = 70
	PriorityCursor       = 80
	PriorityMotion       = 75
	PriorityObject       = 60
	PrioritySaliency     = 50
	PriorityDefault      = 50
)

// Meta carries the per-kind attributes of a Detection.
// The set of implementations is closed: FaceMeta, TextMeta, MotionMeta,
// ObjectMeta, SaliencyMeta and DefaultMeta.
type Meta interface {
	kind() Kind
}

type FaceMeta struct {
	Speaking bool
	Eyes     int
}

type TextMeta struct {
	Text  string
	Code  bool
	Large bool
}

type MotionMeta struct {
	Cursor    bool
	Magnitude float64 // mean flow magnitude over the region
	Area      int
}

type ObjectMeta struct {
	Area int
}

type SaliencyMeta struct {
	EdgePixels int
}

type DefaultMeta struct{}

func (FaceMeta) kind() Kind     { return KindFace }
func (TextMeta) kind() Kind     { return KindText }
func (MotionMeta) kind() Kind   { return KindMotion }
func (ObjectMeta) kind() Kind   { return KindObject }
func (SaliencyMeta) kind() Kind { return KindSaliency }
func (DefaultMeta) kind() Kind  { return KindDefault }

// Detection is one candidate region of interest found in a single frame
type Detection struct {
	Center       image.Point
	Box          image.Rectangle
	Confidence   float64 // 0.0-1.0
	BasePriority int
	Priority     int // working score, starts at BasePriority
	Timestamp    float64
	Meta         Meta
}

// Kind reports the layer that produced the detection
func (d Detection) Kind() Kind {
	if d.Meta == nil {
		return KindDefault
	}
	return d.Meta.kind()
}

// Area returns the bounding box area in pixels²
func (d Detection) Area() int {
	return d.Box.Dx() * d.Box.Dy()
}

func (d Detection) Face() (FaceMeta, bool) {
	m, ok := d.Meta.(FaceMeta)
	return m, ok
}

func (d Detection) Text() (TextMeta, bool) {
	m, ok := d.Meta.(TextMeta)
	return m, ok
}

func (d Detection) Motion() (MotionMeta, bool) {
	m, ok := d.Meta.(MotionMeta)
	return m, ok
}

// NewDetection builds a detection centred on its box with Priority = base
func NewDetection(box image.Rectangle, confidence float64, base int, ts float64, meta Meta) Detection {
	return Detection{
		Center:       center(box),
		Box:          box,
		Confidence:   clamp01(confidence),
		BasePriority: base,
		Priority:     base,
		Timestamp:    ts,
		Meta:         meta,
	}
}

// Scaled maps a detection found on a downscaled frame back to source coordinates
func (d Detection) Scaled(scale float64) Detection {
	if scale == 1.0 {
		return d
	}
	d.Box = ScaleRect(d.Box, scale)
	d.Center = center(d.Box)
	switch m := d.Meta.(type) {
	case MotionMeta:
		m.Magnitude *= scale
		m.Area = int(float64(m.Area) * scale * scale)
		d.Meta = m
	case ObjectMeta:
		m.Area = int(float64(m.Area) * scale * scale)
		d.Meta = m
	}
	return d
}

// DefaultDetection is the synthetic centre-of-frame candidate used when nothing qualifies
func DefaultDetection(frame image.Point, ts float64) Detection {
	return NewDetection(image.Rect(0, 0, frame.X, frame.Y), 0.5, PriorityDefault, ts, DefaultMeta{})
}

// Detector is the interface for whole-frame analysis strategies
type Detector interface {
	DetectAllLayers(ctx context.Context, frame image.Image, timestamp float64, prev image.Image) []Detection
}

// ScaledDetector can analyse downscaled frames with size rules kept in source pixels
type ScaledDetector interface {
	Detector
	DetectScaled(ctx context.Context, frame image.Image, timestamp float64, prev image.Image, scale float64) []Detection
}

// Detect runs d on a frame downscaled by scale and returns source-space detections
func Detect(ctx context.Context, d Detector, frame image.Image, ts float64, prev image.Image, scale float64) []Detection {
	if sd, ok := d.(ScaledDetector); ok {
		return sd.DetectScaled(ctx, frame, ts, prev, scale)
	}
	dets := d.DetectAllLayers(ctx, frame, ts, prev)
	for i := range dets {
		dets[i] = dets[i].Scaled(scale)
	}
	return dets
}

func center(r image.Rectangle) image.Point {
	return image.Point{
		X: r.Min.X + r.Dx()/2,
		Y: r.Min.Y + r.Dy()/2,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
