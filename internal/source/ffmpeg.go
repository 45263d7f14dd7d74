package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/system"
)

// FFmpegSource decodes frames of a video file with the ffmpeg CLI
type FFmpegSource struct {
	info   ClipInfo
	ffmpeg string
}

// NewFFmpegSource probes path and prepares it for frame reads
func NewFFmpegSource(ctx context.Context, path string, cfg config.FFmpegConfig) (*FFmpegSource, error) {
	info, err := Probe(ctx, cfg.Probe, path)
	if err != nil {
		return nil, err
	}

	bin := cfg.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegSource{info: info, ffmpeg: bin}, nil
}

func (s *FFmpegSource) Info() ClipInfo { return s.info }

func (s *FFmpegSource) frameBytes() int {
	return s.info.Width * s.info.Height * 4
}

// FrameAt seeks to t and decodes one RGBA frame
func (s *FFmpegSource) FrameAt(ctx context.Context, t float64) (image.Image, error) {
	if t < 0 || t > s.info.Duration {
		return nil, &FrameError{Time: t, Err: ErrFrameUnavailable}
	}

	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-v", "error",
		"-ss", strconv.FormatFloat(t, 'f', 3, 64),
		"-i", s.info.Path,
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FrameError{Time: t, Err: fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))}
	}

	n := s.frameBytes()
	if len(out) < n {
		return nil, &FrameError{Time: t, Err: ErrFrameUnavailable}
	}

	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	copy(img.Pix, out[:n])
	return img, nil
}

// Stream decodes every frame in order and passes it to fn.
// The frame buffer is reused between calls, so fn must not retain it.
func (s *FFmpegSource) Stream(ctx context.Context, fn func(index int, t float64, frame *image.RGBA) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffmpeg,
		"-v", "error",
		"-i", s.info.Path,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	frame := system.GetImage(image.Rect(0, 0, s.info.Width, s.info.Height))
	defer system.PutImage(frame)

	fps := s.info.FPS
	if fps <= 0 {
		fps = DefaultImageFPS
	}

	var streamErr error
	for i := 0; ; i++ {
		if _, err := io.ReadFull(stdout, frame.Pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				streamErr = fmt.Errorf("read frame %d: %w", i, err)
			}
			break
		}
		if err := fn(i, float64(i)/fps, frame); err != nil {
			streamErr = err
			break
		}
	}

	if streamErr != nil {
		cancel()
		_ = cmd.Wait()
		return streamErr
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg decode error: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *FFmpegSource) Close() error {
	return nil
}

// probeResult matches the parts of ffprobe JSON output we read
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// displayRotation returns the stream rotation in degrees, normalized to [0, 360)
func displayRotation(tag string, sideData []float64) int {
	deg := 0.0
	if r, err := strconv.ParseFloat(tag, 64); err == nil {
		deg = r
	}
	for _, r := range sideData {
		if r != 0 {
			deg = r
			break
		}
	}
	return ((int(math.Round(deg)) % 360) + 360) % 360
}

// Probe reads clip geometry, duration and frame rate with ffprobe
func Probe(ctx context.Context, ffprobe, path string) (ClipInfo, error) {
	if path == "" {
		return ClipInfo{}, fmt.Errorf("file path is required")
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return ClipInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbe(path, out)
}

func parseProbe(path string, data []byte) (ClipInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return ClipInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := ClipInfo{Path: path}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height

		// ffmpeg autorotates on decode, so frames come out in display orientation
		sideData := make([]float64, 0, len(stream.SideDataList))
		for _, sd := range stream.SideDataList {
			sideData = append(sideData, sd.Rotation)
		}
		if rot := displayRotation(stream.Tags.Rotate, sideData); rot == 90 || rot == 270 {
			info.Width, info.Height = info.Height, info.Width
		}
		info.FPS = parseFrameRate(stream.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = parseFrameRate(stream.RFrameRate)
		}
		if info.Duration == 0 {
			info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
		}
		break
	}

	if info.Width <= 0 || info.Height <= 0 {
		return ClipInfo{}, fmt.Errorf("no video stream in %s", path)
	}
	return info, nil
}

// parseFrameRate converts "30000/1001" or "25" to frames per second
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
