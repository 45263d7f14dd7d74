package engine

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/source"
	"github.com/ivlev/reframe/internal/store"
)

type fakeSource struct {
	info source.ClipInfo
}

func newFakeSource(path string) *fakeSource {
	return &fakeSource{info: source.ClipInfo{Path: path, Width: 640, Height: 360, Duration: 4, FPS: 10}}
}

func (s *fakeSource) Info() source.ClipInfo { return s.info }
func (s *fakeSource) Close() error          { return nil }

func (s *fakeSource) FrameAt(_ context.Context, t float64) (image.Image, error) {
	if t < 0 || t >= s.info.Duration {
		return nil, &source.FrameError{Time: t, Err: source.ErrFrameUnavailable}
	}
	return image.NewGray(image.Rect(0, 0, s.info.Width, s.info.Height)), nil
}

// scriptedDetector sees a speaking face on the right from t=2s on
type scriptedDetector struct{}

func (scriptedDetector) DetectAllLayers(_ context.Context, _ image.Image, ts float64, _ image.Image) []analyzer.Detection {
	if ts < 2 {
		return nil
	}
	return []analyzer.Detection{
		analyzer.NewDetection(image.Rect(500, 100, 600, 200), 1, analyzer.PrioritySpeakingFace, ts, analyzer.FaceMeta{Speaking: true}),
	}
}

type fakeWriter struct {
	enc    *fakeEncoder
	size   image.Point
	frames int
}

func (w *fakeWriter) WriteFrame(img image.Image) error {
	if img.Bounds().Size() != w.size {
		return errors.New("wrong frame size")
	}
	w.frames++
	return nil
}

func (w *fakeWriter) Close() error {
	w.enc.mu.Lock()
	defer w.enc.mu.Unlock()
	w.enc.streamed = append(w.enc.streamed, w.frames)
	return nil
}

type fakeEncoder struct {
	mu       sync.Mutex
	filters  map[string]string
	streamed []int
}

func (e *fakeEncoder) Transcode(_ context.Context, in, out, filter string, _ float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.filters == nil {
		e.filters = make(map[string]string)
	}
	e.filters[out] = filter
	return nil
}

func (e *fakeEncoder) OpenStream(_ context.Context, w, h int, _ float64, _, _ string) (FrameWriter, error) {
	return &fakeWriter{enc: e, size: image.Pt(w, h)}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	cfg.Tracking.AnalysisWidth = 0
	return cfg
}

func newTestRunner(cfg *config.Config, enc *fakeEncoder, opts ...Option) *Runner {
	opts = append([]Option{
		WithFaceFinder(nil),
		WithDetectorFactory(func() (analyzer.Detector, error) { return scriptedDetector{}, nil }),
		WithOpener(func(_ context.Context, path string) (source.FrameSource, error) {
			if strings.Contains(path, "broken") {
				return nil, errors.New("moov atom not found")
			}
			return newFakeSource(path), nil
		}),
	}, opts...)
	return New(cfg, enc, zerolog.Nop(), opts...)
}

func TestTrack(t *testing.T) {
	r := newTestRunner(testConfig(), &fakeEncoder{})

	tl, err := r.Track(context.Background(), newFakeSource("talk.mp4"), nil, image.Pt(1080, 1920))
	require.NoError(t, err)

	require.Len(t, tl.Targets, 2)
	assert.True(t, strings.HasPrefix(tl.Targets[0], "default"))
	assert.True(t, strings.HasPrefix(tl.Targets[1], "face"))

	first, last := tl.Keyframes[0], tl.Keyframes[len(tl.Keyframes)-1]
	assert.Equal(t, 0.0, first.Time)
	assert.Equal(t, 4.0, last.Time)
	assert.Equal(t, 550.0, last.Position.X)
	assert.Equal(t, 150.0, last.Position.Y)
	assert.Equal(t, 640, tl.Frame.W)
	assert.Equal(t, 1920, tl.Output.H)
}

func TestTrackStateDoesNotLeakAcrossClips(t *testing.T) {
	r := newTestRunner(testConfig(), &fakeEncoder{})
	ctx := context.Background()

	a, err := r.Track(ctx, newFakeSource("a.mp4"), nil, image.Pt(1080, 1920))
	require.NoError(t, err)
	b, err := r.Track(ctx, newFakeSource("a.mp4"), nil, image.Pt(1080, 1920))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestTrackCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(testConfig(), &fakeEncoder{}).Track(ctx, newFakeSource("a.mp4"), nil, image.Pt(90, 160))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderDynamic(t *testing.T) {
	enc := &fakeEncoder{}
	r := newTestRunner(testConfig(), enc)
	ctx := context.Background()
	src := newFakeSource("a.mp4")

	tl, err := r.Track(ctx, src, nil, image.Pt(90, 160))
	require.NoError(t, err)
	require.NoError(t, r.RenderDynamic(ctx, src, tl, filepath.Join(t.TempDir(), "out.mp4")))

	assert.Equal(t, []int{40}, enc.streamed)
}

func TestBatchIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	db, err := store.New(filepath.Join(dir, "runs.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	enc := &fakeEncoder{}
	r := newTestRunner(testConfig(), enc, WithStore(db.Runs()))

	jobs := []Job{
		{Input: "talk.mp4", Output: filepath.Join(dir, "out", "talk.mp4"), Category: "podcast", Mode: ModeCrop},
		{Input: "broken.mp4", Output: filepath.Join(dir, "out", "broken.mp4"), Category: "podcast", Mode: ModeCrop},
		{Input: "demo.mp4", Output: filepath.Join(dir, "out", "demo.mp4"), Platform: "90x160", Mode: ModeDynamic},
		{Input: "pan.mp4", Output: filepath.Join(dir, "out", "pan.mp4"), Mode: ModePan},
	}

	results := r.Batch(context.Background(), jobs)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Plan)
	assert.Equal(t, image.Rect(219, 0, 421, 360), results[0].Plan.Window(0))

	assert.ErrorContains(t, results[1].Err, "moov atom not found")

	assert.NoError(t, results[2].Err)
	assert.NotNil(t, results[2].Timeline)
	assert.Equal(t, []int{40}, enc.streamed)

	assert.NoError(t, results[3].Err)
	assert.True(t, strings.HasPrefix(enc.filters[jobs[3].Output], "crop=w=203:h=360:x='if(lte(t,"))

	timelines, err := filepath.Glob(filepath.Join(dir, "out", "*.timeline.yaml"))
	require.NoError(t, err)
	assert.Len(t, timelines, 2)

	ctx := context.Background()
	for i, res := range results {
		require.NotEmpty(t, res.RunID, "job %d", i)
		run, err := db.Runs().GetRun(ctx, res.RunID)
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, store.StatusFailed, run.Status)
			assert.Contains(t, run.Error, "moov atom not found")
			continue
		}
		assert.Equal(t, store.StatusDone, run.Status, "job %d", i)
	}

	run, err := db.Runs().GetRun(ctx, results[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, "center", run.Reason)
	assert.Equal(t, image.Rect(219, 0, 421, 360), run.Crop)
}

func TestBatchCancelled(t *testing.T) {
	enc := &fakeEncoder{}
	r := newTestRunner(testConfig(), enc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := r.Batch(ctx, []Job{
		{Input: "a.mp4", Output: filepath.Join(t.TempDir(), "a.mp4")},
		{Input: "b.mp4", Output: filepath.Join(t.TempDir(), "b.mp4")},
	})

	for _, res := range results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Empty(t, enc.filters)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
clips:
  - input: clips/a.mp4
    output: out/a.mp4
    category: podcast
    platform: tiktok
  - input: /abs/b.mp4
    output: out/b.mp4
    transcript: b.json
    mode: dynamic
`), 0644))

	jobs, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, filepath.Join(dir, "clips", "a.mp4"), jobs[0].Input)
	assert.Equal(t, ModeCrop, jobs[0].Mode)
	assert.Equal(t, "tiktok", jobs[0].Platform)
	assert.Equal(t, "", jobs[0].Transcript)

	assert.Equal(t, "/abs/b.mp4", jobs[1].Input)
	assert.Equal(t, filepath.Join(dir, "b.json"), jobs[1].Transcript)
	assert.Equal(t, ModeDynamic, jobs[1].Mode)

	require.NoError(t, os.WriteFile(path, []byte("clips:\n  - input: a.mp4\n    output: b.mp4\n    mode: warp\n"), 0644))
	_, err = LoadManifest(path)
	assert.ErrorContains(t, err, "unknown mode")

	require.NoError(t, os.WriteFile(path, []byte("clips:\n  - input: a.mp4\n"), 0644))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}
