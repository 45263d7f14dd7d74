package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/ivlev/reframe/internal/config"
)

// ErrFrameUnavailable is returned when no frame exists at the requested time
var ErrFrameUnavailable = errors.New("frame unavailable")

// FrameError reports a failed frame read. It is retryable at an adjacent timestamp.
type FrameError struct {
	Time float64
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame at %.2fs: %v", e.Time, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ClipInfo describes a decoded clip
type ClipInfo struct {
	Path     string
	Width    int
	Height   int
	Duration float64
	FPS      float64
}

// Size returns the frame dimensions
func (i ClipInfo) Size() image.Point {
	return image.Pt(i.Width, i.Height)
}

// FrameSource provides decoded frames of one clip by timestamp
type FrameSource interface {
	Info() ClipInfo
	FrameAt(ctx context.Context, t float64) (image.Image, error)
	Close() error
}

// DefaultImageFPS is the frame rate assumed for directories of still frames
const DefaultImageFPS = 25.0

// Open returns a frame source for a video file or a directory of frames
func Open(ctx context.Context, path string, cfg config.FFmpegConfig) (FrameSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return NewImageSource(path, DefaultImageFPS)
	}
	return NewFFmpegSource(ctx, path, cfg)
}

// FrameAtWithRetry reads the frame at t. If that read fails with a FrameError
// it retries once at t+step, or t-step when t+step is past the end of the clip.
// The returned time is the timestamp the frame was actually read at.
func FrameAtWithRetry(ctx context.Context, src FrameSource, t, step float64) (image.Image, float64, error) {
	img, err := src.FrameAt(ctx, t)
	if err == nil {
		return img, t, nil
	}

	var fe *FrameError
	if !errors.As(err, &fe) || step <= 0 {
		return nil, t, err
	}

	alt := t + step
	if alt >= src.Info().Duration {
		alt = t - step
	}
	if alt < 0 {
		return nil, t, err
	}

	img, retryErr := src.FrameAt(ctx, alt)
	if retryErr != nil {
		return nil, alt, fmt.Errorf("%w (retry: %v)", err, retryErr)
	}
	return img, alt, nil
}
