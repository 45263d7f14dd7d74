package cropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/effects"
	"github.com/ivlev/reframe/internal/renderer"
	"github.com/ivlev/reframe/internal/source"
)

// Category selects the tracking strategy for a clip
type Category string

const (
	CategoryPodcast     Category = "podcast"
	CategoryProductDemo Category = "product_demo"
)

// Strategy records how a plan's crop window was chosen
type Strategy string

const (
	StrategyResize   Strategy = "resize"
	StrategyCenter   Strategy = "center"
	StrategyPerson   Strategy = "person"
	StrategyActivity Strategy = "activity"
)

var (
	// ErrGeometry is returned when no valid crop window fits the source
	ErrGeometry = errors.New("degenerate crop geometry")
	// ErrClipFailed means neither the crop nor the plain resize could be applied
	ErrClipFailed = errors.New("clip failed")
)

// aspect ratios closer than this are treated as equal
const aspectTolerance = 0.01

// Encoder applies a single filter chain to a whole clip
type Encoder interface {
	Transcode(ctx context.Context, in, out, filter string, duration float64) error
}

// Plan is the crop decision for one clip
type Plan struct {
	Source   image.Point
	Target   image.Point
	Duration float64
	Strategy Strategy
	Crop     image.Point
	// Positions holds the window's top-left corner at the start and end of the clip
	Positions []image.Point
}

// Window returns the crop rectangle at position i
func (p *Plan) Window(i int) image.Rectangle {
	if p.Strategy == StrategyResize || len(p.Positions) == 0 {
		return image.Rectangle{Max: p.Source}
	}
	pos := p.Positions[min(max(i, 0), len(p.Positions)-1)]
	return image.Rectangle{Min: pos, Max: pos.Add(p.Crop)}
}

// Static reports whether the window does not move over the clip
func (p *Plan) Static() bool {
	for _, pos := range p.Positions {
		if pos != p.Positions[0] {
			return false
		}
	}
	return true
}

// Effect returns the ffmpeg effect implementing the plan
func (p *Plan) Effect() effects.Effect {
	if p.Strategy == StrategyResize {
		return effects.ResizeEffect{}
	}
	return effects.CropEffect{Start: p.Window(0), End: p.Window(len(p.Positions) - 1)}
}

func (p *Plan) params() config.ClipParams {
	return config.ClipParams{Width: p.Target.X, Height: p.Target.Y, Duration: p.Duration}
}

// Cropper picks one static (or start/end) crop window per clip from a handful of sampled frames
type Cropper struct {
	cfg    config.CropperConfig
	faces  analyzer.FaceFinder
	enc    Encoder
	logger zerolog.Logger
}

// New creates a cropper. faces may be nil, in which case podcasts are centre-cropped.
func New(cfg config.CropperConfig, faces analyzer.FaceFinder, enc Encoder, logger zerolog.Logger) *Cropper {
	return &Cropper{
		cfg:    cfg,
		faces:  faces,
		enc:    enc,
		logger: logger.With().Str("component", "cropper").Logger(),
	}
}

// Plan decides the crop window for a clip rendered at target size
func (c *Cropper) Plan(ctx context.Context, src source.FrameSource, category Category, trackingFocus bool, target image.Point) (*Plan, error) {
	info := src.Info()
	frame := info.Size()
	if frame.X <= 0 || frame.Y <= 0 || target.X <= 0 || target.Y <= 0 {
		return nil, fmt.Errorf("%w: source %v, target %v", ErrGeometry, frame, target)
	}

	plan := &Plan{Source: frame, Target: target, Duration: info.Duration}

	frameAspect := float64(frame.X) / float64(frame.Y)
	targetAspect := float64(target.X) / float64(target.Y)
	if math.Abs(frameAspect-targetAspect) < aspectTolerance {
		plan.Strategy = StrategyResize
		plan.Crop = frame
		return plan, nil
	}

	base := renderer.BaseCrop(frame, target)
	plan.Crop = image.Pt(base.X&^1, base.Y&^1)
	if plan.Crop.X < 2 || plan.Crop.Y < 2 {
		return nil, fmt.Errorf("%w: crop %v from source %v", ErrGeometry, plan.Crop, frame)
	}

	centre := centerPosition(frame, plan.Crop)
	plan.Strategy = StrategyCenter
	plan.Positions = []image.Point{centre, centre}

	if !trackingFocus {
		return plan, nil
	}

	var (
		start, end image.Point
		ok         bool
		err        error
	)
	switch category {
	case CategoryPodcast:
		start, end, ok, err = c.trackPerson(ctx, src, plan.Crop)
		plan.Strategy = StrategyPerson
	case CategoryProductDemo:
		start, end, ok, err = c.trackActivity(ctx, src, plan.Crop)
		plan.Strategy = StrategyActivity
	default:
		plan.Strategy = StrategyCenter
		return plan, nil
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		plan.Strategy = StrategyCenter
		return plan, nil
	}

	plan.Positions = []image.Point{start, end}
	c.logger.Debug().
		Str("strategy", string(plan.Strategy)).
		Interface("start", start).
		Interface("end", end).
		Msg("crop window chosen")
	return plan, nil
}

// Apply renders the plan with one crop+scale pass. If that fails the clip is
// resized with padding instead; ErrClipFailed is returned when both fail.
func (c *Cropper) Apply(ctx context.Context, in, out string, plan *Plan, duration float64) error {
	params := plan.params()

	if plan.Strategy != StrategyResize {
		err := c.enc.Transcode(ctx, in, out, plan.Effect().GenerateFilter(params), duration)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Str("clip", in).Msg("crop failed, falling back to resize")
	}

	if err := c.enc.Transcode(ctx, in, out, effects.ResizeEffect{Pad: true}.GenerateFilter(params), duration); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrClipFailed, in, err)
	}
	return nil
}

// ApplySmartCrop plans and applies the crop for src in one call. A plan that
// cannot be made degrades to a padded resize.
func (c *Cropper) ApplySmartCrop(ctx context.Context, src source.FrameSource, out string, category Category, trackingFocus bool, target image.Point) (*Plan, error) {
	plan, err := c.Plan(ctx, src, category, trackingFocus, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("clip", src.Info().Path).Msg("planning failed, resizing without crop")
		plan = &Plan{
			Source:   src.Info().Size(),
			Target:   target,
			Duration: src.Info().Duration,
			Strategy: StrategyResize,
			Crop:     src.Info().Size(),
		}
	}

	if err := c.Apply(ctx, src.Info().Path, out, plan, 0); err != nil {
		return plan, err
	}
	return plan, nil
}

func centerPosition(frame, crop image.Point) image.Point {
	return image.Pt((frame.X-crop.X)/2, (frame.Y-crop.Y)/2)
}

// clampPosition keeps a crop window of the given size inside the frame
func clampPosition(x, y int, frame, crop image.Point) image.Point {
	return image.Pt(
		max(0, min(x, frame.X-crop.X)),
		max(0, min(y, frame.Y-crop.Y)),
	)
}
