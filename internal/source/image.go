package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageSource serves a directory of still frames as a clip with a fixed frame rate
type ImageSource struct {
	paths []string
	info  ClipInfo
}

// NewImageSource loads the frame list from a directory (sorted by name) or a single image
func NewImageSource(path string, fps float64) (*ImageSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", fps)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				ext := strings.ToLower(filepath.Ext(entry.Name()))
				if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
					paths = append(paths, filepath.Join(path, entry.Name()))
				}
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{path}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", path)
	}

	f, err := os.Open(paths[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", paths[0], err)
	}

	return &ImageSource{
		paths: paths,
		info: ClipInfo{
			Path:     path,
			Width:    cfg.Width,
			Height:   cfg.Height,
			Duration: float64(len(paths)) / fps,
			FPS:      fps,
		},
	}, nil
}

func (s *ImageSource) Info() ClipInfo { return s.info }

// FrameCount returns the number of frames in the clip
func (s *ImageSource) FrameCount() int { return len(s.paths) }

// FrameAt decodes the frame with index round(t*fps)
func (s *ImageSource) FrameAt(ctx context.Context, t float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := int(math.Round(t * s.info.FPS))
	if math.IsNaN(t) || idx < 0 || idx >= len(s.paths) {
		return nil, &FrameError{Time: t, Err: ErrFrameUnavailable}
	}

	f, err := os.Open(s.paths[idx])
	if err != nil {
		return nil, &FrameError{Time: t, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &FrameError{Time: t, Err: err}
	}
	return img, nil
}

func (s *ImageSource) Close() error {
	return nil
}
