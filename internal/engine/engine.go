package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/audiosync"
	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/cropper"
	"github.com/ivlev/reframe/internal/director"
	"github.com/ivlev/reframe/internal/renderer"
	"github.com/ivlev/reframe/internal/source"
	"github.com/ivlev/reframe/internal/store"
	"github.com/ivlev/reframe/internal/video"
)

// FrameWriter consumes rendered output frames
type FrameWriter interface {
	WriteFrame(img image.Image) error
	Close() error
}

// Encoder writes output clips, either by filtering a whole input clip or from raw frames
type Encoder interface {
	Transcode(ctx context.Context, in, out, filter string, duration float64) error
	OpenStream(ctx context.Context, w, h int, fps float64, out, audioFrom string) (FrameWriter, error)
}

type ffmpegEncoder struct {
	*video.FFmpegEncoder
}

// FFmpeg adapts a video encoder to the Runner
func FFmpeg(enc *video.FFmpegEncoder) Encoder {
	return ffmpegEncoder{enc}
}

func (e ffmpegEncoder) OpenStream(ctx context.Context, w, h int, fps float64, out, audioFrom string) (FrameWriter, error) {
	s, err := e.FFmpegEncoder.OpenStream(ctx, w, h, fps, out, audioFrom)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenFunc opens the frame source for an input path
type OpenFunc func(ctx context.Context, path string) (source.FrameSource, error)

// DetectorFactory creates the content detector for one clip
type DetectorFactory func() (analyzer.Detector, error)

// Runner processes clips: dynamic tracking and rendering, smart crops, and batches of both
type Runner struct {
	cfg       *config.Config
	platforms config.Platforms
	logger    zerolog.Logger
	enc       Encoder
	open      OpenFunc
	detectors DetectorFactory
	faces     analyzer.FaceFinder
	facesSet  bool
	runs      store.Repository
	cropper   *cropper.Cropper
}

type Option func(*Runner)

// WithStore records every processed clip in the run ledger
func WithStore(runs store.Repository) Option {
	return func(r *Runner) { r.runs = runs }
}

func WithOpener(open OpenFunc) Option {
	return func(r *Runner) { r.open = open }
}

func WithDetectorFactory(f DetectorFactory) Option {
	return func(r *Runner) { r.detectors = f }
}

// WithFaceFinder sets the face finder used by smart crops. nil disables face tracking.
func WithFaceFinder(f analyzer.FaceFinder) Option {
	return func(r *Runner) { r.faces, r.facesSet = f, true }
}

// New creates a runner from configuration
func New(cfg *config.Config, enc Encoder, logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		platforms: cfg.PlatformTable(),
		logger:    logger.With().Str("component", "engine").Logger(),
		enc:       enc,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.open == nil {
		r.open = func(ctx context.Context, path string) (source.FrameSource, error) {
			return source.Open(ctx, path, cfg.FFmpeg)
		}
	}
	if r.detectors == nil {
		r.detectors = func() (analyzer.Detector, error) {
			return analyzer.NewDetector(cfg.Detector.Variant, cfg.Detector, logger)
		}
	}
	if !r.facesSet {
		faces, err := analyzer.NewFaceFinder(cfg.Detector)
		if err != nil {
			r.logger.Warn().Err(err).Msg("face finder unavailable, podcast clips will be centre-cropped")
		} else {
			r.faces = faces
		}
	}

	r.cropper = cropper.New(cfg.Cropper, r.faces, enc, logger)
	return r
}

// Close releases the shared face finder
func (r *Runner) Close() error {
	if c, ok := r.faces.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Track analyses a clip and produces its camera timeline for the target output size.
// Every call uses a fresh decision engine, so clips never influence each other.
func (r *Runner) Track(ctx context.Context, src source.FrameSource, transcript []audiosync.TranscriptEntry, target image.Point) (*renderer.Timeline, error) {
	info := src.Info()
	if info.Duration <= 0 || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("clip %s has no frames", info.Path)
	}

	det, err := r.detectors()
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}
	if c, ok := det.(io.Closer); ok {
		defer c.Close()
	}

	fps := r.cfg.Tracking.AnalysisFPS
	if fps <= 0 {
		fps = 2
	}

	segments := audiosync.AnalyzeTranscriptSegments(transcript)
	eng := director.NewEngine(r.cfg.Engine, info.Size())

	var (
		prev    image.Image
		last    *director.FocusTarget
		targets []*director.FocusTarget
	)
	for i := 0; ; i++ {
		t := float64(i) / fps
		if t >= info.Duration {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.FrameAt(ctx, t)
		if err != nil {
			var fe *source.FrameError
			if errors.As(err, &fe) {
				r.logger.Debug().Err(err).Float64("t", t).Msg("frame skipped")
				prev = nil
				continue
			}
			return nil, err
		}

		small, scale := analyzer.Downscale(frame, r.cfg.Tracking.AnalysisWidth)
		dets := analyzer.Detect(ctx, det, small, t, prev, scale)
		prev = small

		var seg *audiosync.AudioSegment
		if s, ok := audiosync.SegmentAt(segments, t); ok {
			seg = &s
		}

		ft := eng.SelectBestTarget(dets, seg, t)
		if ft == last {
			continue
		}
		if ft.IsDefault() && last != nil && last.IsDefault() {
			continue
		}
		targets = append(targets, ft)
		last = ft
	}

	cam := renderer.NewCamera(r.cfg.Camera, info.Size(), target)
	tl := &renderer.Timeline{
		Version:   "1",
		Source:    info.Path,
		Duration:  info.Duration,
		Frame:     renderer.Size{W: info.Width, H: info.Height},
		Output:    renderer.Size{W: target.X, H: target.Y},
		Keyframes: cam.GenerateTimeline(targets, info.Duration),
	}
	for _, ft := range targets {
		tl.Targets = append(tl.Targets, ft.String())
	}

	r.logger.Debug().
		Str("clip", info.Path).
		Int("targets", len(targets)).
		Int("keyframes", len(tl.Keyframes)).
		Msg("timeline generated")
	return tl, nil
}

// streamer is implemented by sources that can decode all frames sequentially
type streamer interface {
	Stream(ctx context.Context, fn func(index int, t float64, frame *image.RGBA) error) error
}

// RenderDynamic crops every frame along the timeline and encodes the result
func (r *Runner) RenderDynamic(ctx context.Context, src source.FrameSource, tl *renderer.Timeline, out string) error {
	info := src.Info()
	cam := renderer.NewCamera(r.cfg.Camera, info.Size(), image.Pt(tl.Output.W, tl.Output.H))

	fps := info.FPS
	if fps <= 0 {
		fps = source.DefaultImageFPS
	}

	audio := ""
	if _, ok := src.(*source.FFmpegSource); ok {
		audio = info.Path
	}

	stream, err := r.enc.OpenStream(ctx, tl.Output.W, tl.Output.H, fps, out, audio)
	if err != nil {
		return err
	}

	write := func(t float64, frame image.Image) error {
		return stream.WriteFrame(cam.ApplyDynamicCrop(frame, tl.Keyframes, t))
	}

	if s, ok := src.(streamer); ok {
		err = s.Stream(ctx, func(_ int, t float64, frame *image.RGBA) error {
			return write(t, frame)
		})
	} else {
		frames := int(math.Ceil(info.Duration * fps))
		for i := 0; i < frames && err == nil; i++ {
			t := float64(i) / fps
			var frame image.Image
			frame, err = src.FrameAt(ctx, t)
			if err == nil {
				err = write(t, frame)
			}
		}
	}

	if closeErr := stream.Close(); err == nil {
		err = closeErr
	}
	return err
}

// RenderPan renders the timeline as a single ffmpeg crop that follows the
// camera position at base zoom. It is much faster than RenderDynamic.
func (r *Runner) RenderPan(ctx context.Context, in string, tl *renderer.Timeline, out string) error {
	cam := renderer.NewCamera(r.cfg.Camera, image.Pt(tl.Frame.W, tl.Frame.H), image.Pt(tl.Output.W, tl.Output.H))
	params := config.ClipParams{Width: tl.Output.W, Height: tl.Output.H, Duration: tl.Duration}
	return r.enc.Transcode(ctx, in, out, cam.PanEffect(tl.Keyframes).GenerateFilter(params), 0)
}

// SmartCrop applies the smart cropper to one job
func (r *Runner) SmartCrop(ctx context.Context, job Job) (*cropper.Plan, error) {
	target, err := r.platforms.Lookup(r.platform(job))
	if err != nil {
		return nil, err
	}

	src, err := r.open(ctx, job.Input)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", job.Input, err)
	}
	defer src.Close()

	if err := ensureDir(job.Output); err != nil {
		return nil, err
	}
	return r.cropper.ApplySmartCrop(ctx, src, job.Output, cropper.Category(job.Category), !job.NoTracking, target)
}

// Dynamic tracks a job's clip, saves its timeline next to the output and renders it
func (r *Runner) Dynamic(ctx context.Context, job Job) (*renderer.Timeline, error) {
	target, err := r.platforms.Lookup(r.platform(job))
	if err != nil {
		return nil, err
	}

	transcript, err := audiosync.LoadTranscript(job.Transcript)
	if err != nil {
		return nil, err
	}

	src, err := r.open(ctx, job.Input)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", job.Input, err)
	}
	defer src.Close()

	tl, err := r.Track(ctx, src, transcript, target)
	if err != nil {
		return nil, err
	}

	if err := ensureDir(job.Output); err != nil {
		return nil, err
	}
	if err := renderer.WriteTimeline(renderer.TimelinePath(filepath.Dir(job.Output), job.Output), tl); err != nil {
		r.logger.Warn().Err(err).Str("clip", job.Input).Msg("failed to save timeline")
	}

	if job.Mode == ModePan {
		return tl, r.RenderPan(ctx, job.Input, tl, job.Output)
	}
	return tl, r.RenderDynamic(ctx, src, tl, job.Output)
}

func (r *Runner) platform(job Job) string {
	if job.Platform != "" {
		return job.Platform
	}
	return r.cfg.Platform
}

func ensureDir(out string) error {
	if dir := filepath.Dir(out); dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
