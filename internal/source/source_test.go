package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/reframe/internal/config"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func writeFrames(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 32, 16))
		img.Set(0, 0, color.RGBA{R: uint8(i), A: 255})

		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

func TestImageSource(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))

	src, err := NewImageSource(dir, 10)
	require.NoError(t, err)
	defer src.Close()

	info := src.Info()
	assert.Equal(t, 5, src.FrameCount())
	assert.Equal(t, image.Pt(32, 16), info.Size())
	assert.InDelta(t, 0.5, info.Duration, 1e-9)

	ctx := context.Background()
	img, err := src.FrameAt(ctx, 0.26)
	require.NoError(t, err)
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(3), r>>8)

	for _, ts := range []float64{-1, 0.5, 10} {
		_, err := src.FrameAt(ctx, ts)
		var fe *FrameError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, ts, fe.Time)
		assert.ErrorIs(t, err, ErrFrameUnavailable)
	}
}

func TestImageSourceErrors(t *testing.T) {
	_, err := NewImageSource(t.TempDir(), 25)
	assert.Error(t, err)

	_, err = NewImageSource(t.TempDir(), 0)
	assert.Error(t, err)
}

type flakySource struct {
	info  ClipInfo
	bad   map[float64]bool
	calls []float64
}

func (f *flakySource) Info() ClipInfo { return f.info }
func (f *flakySource) Close() error   { return nil }

func (f *flakySource) FrameAt(_ context.Context, t float64) (image.Image, error) {
	f.calls = append(f.calls, t)
	if f.bad[t] {
		return nil, &FrameError{Time: t, Err: errors.New("corrupt packet")}
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func TestFrameAtWithRetry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		t       float64
		bad     map[float64]bool
		wantT   float64
		wantErr bool
		calls   []float64
	}{
		{"first read ok", 2, nil, 2, false, []float64{2}},
		{"retry after", 2, map[float64]bool{2: true}, 2.5, false, []float64{2, 2.5}},
		{"retry before at end", 9.8, map[float64]bool{9.8: true}, 9.3, false, []float64{9.8, 9.3}},
		{"both fail", 2, map[float64]bool{2: true, 2.5: true}, 2.5, true, []float64{2, 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &flakySource{info: ClipInfo{Duration: 10}, bad: tt.bad}

			img, got, err := FrameAtWithRetry(ctx, src, tt.t, 0.5)

			assert.Equal(t, tt.calls, src.calls)
			assert.Equal(t, tt.wantT, got)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, img)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, img)
		})
	}
}

func TestFrameAtWithRetryPassesOtherErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src, err := NewImageSource(writeOne(t), 25)
	require.NoError(t, err)

	_, _, err = FrameAtWithRetry(ctx, src, 0, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeOne(t *testing.T) string {
	dir := t.TempDir()
	writeFrames(t, dir, 1)
	return dir
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001"}
		],
		"format": {"duration": "12.500000"}
	}`)

	info, err := parseProbe("in.mp4", data)
	require.NoError(t, err)
	assert.Equal(t, "in.mp4", info.Path)
	assert.Equal(t, image.Pt(1920, 1080), info.Size())
	assert.InDelta(t, 12.5, info.Duration, 1e-9)
	assert.InDelta(t, 29.97, info.FPS, 0.01)

	_, err = parseProbe("audio.m4a", []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`))
	assert.Error(t, err)

	_, err = parseProbe("bad", []byte(`not json`))
	assert.Error(t, err)
}

func TestParseProbeRotation(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   image.Point
	}{
		{"display matrix", `"side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}]`, image.Pt(1080, 1920)},
		{"rotate tag", `"tags": {"rotate": "90"}`, image.Pt(1080, 1920)},
		{"upside down", `"side_data_list": [{"rotation": 180}]`, image.Pt(1920, 1080)},
		{"none", `"tags": {}`, image.Pt(1920, 1080)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{"streams": [{"codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30/1", ` +
				tt.stream + `}], "format": {"duration": "4.0"}}`)

			info, err := parseProbe("phone.mov", data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Size())
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	assert.Equal(t, 25.0, parseFrameRate("25"))
	assert.Equal(t, 30.0, parseFrameRate("30/1"))
	assert.Equal(t, 0.0, parseFrameRate("0/0"))
	assert.Equal(t, 0.0, parseFrameRate(""))
}

func TestFFmpegSource(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	out, err := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi", "-i", "testsrc=size=64x36:rate=10:duration=1",
		"-pix_fmt", "yuv420p", path).CombinedOutput()
	require.NoError(t, err, string(out))

	ctx := context.Background()
	src, err := NewFFmpegSource(ctx, path, config.Default().FFmpeg)
	require.NoError(t, err)

	assert.Equal(t, image.Pt(64, 36), src.Info().Size())

	img, err := src.FrameAt(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 36), img.Bounds().Size())

	_, err = src.FrameAt(ctx, 30)
	assert.ErrorIs(t, err, ErrFrameUnavailable)

	frames := 0
	require.NoError(t, src.Stream(ctx, func(i int, _ float64, frame *image.RGBA) error {
		assert.Equal(t, frames, i)
		frames++
		return nil
	}))
	assert.Equal(t, 10, frames)
}
