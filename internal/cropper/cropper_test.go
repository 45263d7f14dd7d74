package cropper

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/source"
)

var vertical = image.Pt(1080, 1920)

// fakeSource serves uniform gray frames whose level encodes the timestamp (t*20)
type fakeSource struct {
	info  source.ClipInfo
	bad   map[float64]bool
	frame func(t float64) image.Image
	reads []float64
}

func newFakeSource(w, h int, duration float64) *fakeSource {
	return &fakeSource{info: source.ClipInfo{Path: "clip.mp4", Width: w, Height: h, Duration: duration, FPS: 25}}
}

func (s *fakeSource) Info() source.ClipInfo { return s.info }
func (s *fakeSource) Close() error          { return nil }

func (s *fakeSource) FrameAt(_ context.Context, t float64) (image.Image, error) {
	s.reads = append(s.reads, t)
	if s.bad[t] {
		return nil, &source.FrameError{Time: t, Err: source.ErrFrameUnavailable}
	}
	if s.frame != nil {
		return s.frame(t), nil
	}
	img := image.NewGray(image.Rect(0, 0, s.info.Width, s.info.Height))
	level := uint8(int(t * 20))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img, nil
}

// fakeFaces reports faces only for frames of a given gray level
type fakeFaces map[uint8][]image.Rectangle

func (f fakeFaces) FindFaces(gray *image.Gray, _ float64) []image.Rectangle {
	return f[gray.Pix[len(gray.Pix)/2]]
}

func (f fakeFaces) FindEyes(*image.Gray, image.Rectangle) []image.Rectangle { return nil }

type fakeEncoder struct {
	failures int
	filters  []string
}

func (e *fakeEncoder) Transcode(_ context.Context, _, _ string, filter string, _ float64) error {
	e.filters = append(e.filters, filter)
	if len(e.filters) <= e.failures {
		return errors.New("encoder exited with status 1")
	}
	return nil
}

func newCropper(cfg config.CropperConfig, faces fakeFaces, enc Encoder) *Cropper {
	return New(cfg, faces, enc, zerolog.Nop())
}

func TestSampleFractions(t *testing.T) {
	assert.Equal(t, []float64{0.25, 0.5, 0.75}, sampleFractions(10))
	assert.Equal(t, []float64{0.15, 0.4, 0.65, 0.9}, sampleFractions(10.5))
	assert.Equal(t, []float64{0.15, 0.4, 0.65, 0.9}, sampleFractions(30))
	assert.Len(t, sampleFractions(31), 5)
}

func TestPodcastFaceSeenOnce(t *testing.T) {
	// one large face, visible only in the frame at t=5s, found on a half-width analysis frame
	faces := fakeFaces{100: {image.Rect(600, 150, 700, 250)}}
	src := newFakeSource(1920, 1080, 10)
	c := newCropper(config.CropperConfig{AnalysisWidth: 960, RetryStep: 0.5}, faces, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryPodcast, true, vertical)
	require.NoError(t, err)

	assert.Equal(t, []float64{2.5, 5, 7.5}, src.reads)
	assert.Equal(t, StrategyPerson, plan.Strategy)
	assert.Equal(t, image.Pt(608, 1080), plan.Crop)
	require.Len(t, plan.Positions, 2)
	assert.Equal(t, image.Pt(996, 0), plan.Positions[0])
	assert.Equal(t, plan.Positions[0], plan.Positions[1])
	assert.True(t, plan.Static())
}

func TestPodcastUpperThird(t *testing.T) {
	faces := fakeFaces{100: {image.Rect(440, 800, 640, 1000), image.Rect(0, 0, 20, 20)}}
	src := newFakeSource(1080, 1920, 10)
	c := newCropper(config.CropperConfig{RetryStep: 0.5}, faces, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryPodcast, true, image.Pt(1080, 1080))
	require.NoError(t, err)

	// face centre (540, 900) lands on the upper third line of a 1080 tall crop
	assert.Equal(t, image.Pt(0, 540), plan.Window(0).Min)
	assert.Equal(t, image.Rect(0, 540, 1080, 1620), plan.Window(1))
}

func TestPodcastWithoutFace(t *testing.T) {
	src := newFakeSource(1920, 1080, 40)
	c := newCropper(config.CropperConfig{RetryStep: 0.5}, fakeFaces{}, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryPodcast, true, vertical)
	require.NoError(t, err)

	assert.Len(t, src.reads, 5)
	assert.Equal(t, StrategyCenter, plan.Strategy)
	assert.Equal(t, []image.Point{{656, 0}, {656, 0}}, plan.Positions)
}

func TestFrameRetry(t *testing.T) {
	// t=5 is unreadable; the retry at 5.5s (level 110) shows the face
	faces := fakeFaces{110: {image.Rect(1200, 300, 1400, 500)}}
	src := newFakeSource(1920, 1080, 10)
	src.bad = map[float64]bool{5: true, 7.5: true, 8: true}
	c := newCropper(config.CropperConfig{RetryStep: 0.5}, faces, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryPodcast, true, vertical)
	require.NoError(t, err)

	assert.Equal(t, []float64{2.5, 5, 5.5, 7.5, 8}, src.reads)
	assert.Equal(t, StrategyPerson, plan.Strategy)
	assert.Equal(t, image.Pt(996, 0), plan.Positions[0])
}

func TestProductDemoNoActivity(t *testing.T) {
	src := newFakeSource(1920, 1080, 12)
	c := newCropper(config.CropperConfig{AnalysisWidth: 640, RetryStep: 0.5}, nil, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryProductDemo, true, vertical)
	require.NoError(t, err)

	assert.Equal(t, []float64{3, 6, 9}, src.reads)
	assert.Equal(t, StrategyCenter, plan.Strategy)
	want := image.Pt((1920-608)/2, (1080-1080)/2)
	assert.Equal(t, []image.Point{want, want}, plan.Positions)
}

func activityFrame(box image.Rectangle) func(float64) image.Image {
	return func(float64) image.Image {
		img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
		draw.Draw(img, box, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
		return img
	}
}

func TestProductDemoActivity(t *testing.T) {
	src := newFakeSource(1920, 1080, 12)
	src.frame = activityFrame(image.Rect(1500, 850, 1700, 1050))
	c := newCropper(config.CropperConfig{AnalysisWidth: 640, RetryStep: 0.5}, nil, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryProductDemo, true, vertical)
	require.NoError(t, err)

	assert.Equal(t, StrategyActivity, plan.Strategy)
	// centred on the bottom-right cell, clamped to the right edge
	assert.Equal(t, image.Pt(1312, 0), plan.Positions[0])
	assert.True(t, plan.Static())
}

func TestHottestCell(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 200, 200))
	_, density := hottestCell(gray)
	assert.Zero(t, density)

	for y := 60; y < 90; y++ {
		for x := 10; x < 40; x++ {
			gray.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	cell, density := hottestCell(gray)
	assert.Equal(t, image.Rect(0, 50, 50, 100), cell)
	assert.Positive(t, density)
}

func TestPlanModes(t *testing.T) {
	ctx := context.Background()
	c := newCropper(config.CropperConfig{RetryStep: 0.5}, fakeFaces{100: {image.Rect(0, 0, 50, 50)}}, &fakeEncoder{})

	tests := []struct {
		name     string
		category Category
		tracking bool
		target   image.Point
		want     Strategy
	}{
		{"matching aspect", CategoryPodcast, true, image.Pt(1280, 720), StrategyResize},
		{"tracking off", CategoryPodcast, false, vertical, StrategyCenter},
		{"unknown category", Category("interview"), true, vertical, StrategyCenter},
		{"podcast", CategoryPodcast, true, vertical, StrategyPerson},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := c.Plan(ctx, newFakeSource(1920, 1080, 10), tt.category, tt.tracking, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Strategy)
		})
	}
}

func TestPlanGeometryErrors(t *testing.T) {
	c := newCropper(config.CropperConfig{}, nil, &fakeEncoder{})

	_, err := c.Plan(context.Background(), newFakeSource(0, 1080, 10), CategoryPodcast, true, vertical)
	assert.ErrorIs(t, err, ErrGeometry)

	_, err = c.Plan(context.Background(), newFakeSource(1920, 1, 10), CategoryPodcast, true, vertical)
	assert.ErrorIs(t, err, ErrGeometry)
}

func TestInterpolatedWindow(t *testing.T) {
	faces := fakeFaces{
		50:  {image.Rect(300, 300, 500, 500)},
		150: {image.Rect(1400, 300, 1600, 500)},
	}
	src := newFakeSource(1920, 1080, 10)
	c := newCropper(config.CropperConfig{RetryStep: 0.5, Interpolate: true}, faces, &fakeEncoder{})

	plan, err := c.Plan(context.Background(), src, CategoryPodcast, true, vertical)
	require.NoError(t, err)

	assert.Equal(t, image.Pt(96, 0), plan.Positions[0])
	assert.Equal(t, image.Pt(1196, 0), plan.Positions[1])
	assert.False(t, plan.Static())
	assert.Contains(t, plan.Effect().GenerateFilter(plan.params()), "min(t/10.000000,1)")
}

func TestApplyFallbacks(t *testing.T) {
	ctx := context.Background()
	plan := &Plan{
		Source:    image.Pt(1920, 1080),
		Target:    vertical,
		Duration:  10,
		Strategy:  StrategyPerson,
		Crop:      image.Pt(608, 1080),
		Positions: []image.Point{{996, 0}, {996, 0}},
	}

	enc := &fakeEncoder{}
	require.NoError(t, newCropper(config.CropperConfig{}, nil, enc).Apply(ctx, "in.mp4", "out.mp4", plan, 0))
	require.Len(t, enc.filters, 1)
	assert.Equal(t, "crop=w=608:h=1080:x='996':y='0',scale=1080:1920:flags=lanczos,setsar=1", enc.filters[0])

	enc = &fakeEncoder{failures: 1}
	require.NoError(t, newCropper(config.CropperConfig{}, nil, enc).Apply(ctx, "in.mp4", "out.mp4", plan, 0))
	require.Len(t, enc.filters, 2)
	assert.True(t, strings.HasPrefix(enc.filters[1], "scale=1080:1920:force_original_aspect_ratio=decrease,pad="))

	enc = &fakeEncoder{failures: 2}
	err := newCropper(config.CropperConfig{}, nil, enc).Apply(ctx, "in.mp4", "out.mp4", plan, 0)
	assert.ErrorIs(t, err, ErrClipFailed)
}

func TestApplySmartCropDegradesToResize(t *testing.T) {
	enc := &fakeEncoder{}
	c := newCropper(config.CropperConfig{}, nil, enc)

	plan, err := c.ApplySmartCrop(context.Background(), newFakeSource(1920, 1, 10), "out.mp4", CategoryPodcast, true, vertical)
	require.NoError(t, err)

	assert.Equal(t, StrategyResize, plan.Strategy)
	require.Len(t, enc.filters, 1)
	assert.Contains(t, enc.filters[0], "pad=1080:1920")
}
