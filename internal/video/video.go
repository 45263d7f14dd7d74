package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ivlev/reframe/internal/config"
	"github.com/ivlev/reframe/internal/system"
)

// FFmpegEncoder writes reframed clips with the ffmpeg CLI
type FFmpegEncoder struct {
	binary  string
	encoder string
	quality int
}

// NewFFmpegEncoder resolves the H.264 encoder to use. An empty encoder in
// cfg probes ffmpeg for a hardware encoder.
func NewFFmpegEncoder(ctx context.Context, cfg config.FFmpegConfig) *FFmpegEncoder {
	bin := cfg.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	enc := cfg.Encoder
	if enc == "" {
		enc = system.GetBestH264Encoder(ctx, bin)
	}
	return &FFmpegEncoder{binary: bin, encoder: enc, quality: cfg.Quality}
}

// Encoder returns the ffmpeg video codec name in use
func (e *FFmpegEncoder) Encoder() string { return e.encoder }

// Transcode applies one video filter to the whole input clip
func (e *FFmpegEncoder) Transcode(ctx context.Context, in, out, filter string, duration float64) error {
	cmd := exec.CommandContext(ctx, e.binary, e.transcodeArgs(in, out, filter, duration)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg transcode error: %v, output: %s", err, lastLines(output, 5))
	}
	return nil
}

func (e *FFmpegEncoder) transcodeArgs(in, out, filter string, duration float64) []string {
	args := []string{"-y", "-i", in}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	if duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%f", duration))
	}
	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", e.encoder,
		"-pix_fmt", "yuv420p",
	)
	args = append(args, qualityArgs(e.encoder, e.quality)...)
	args = append(args, "-c:a", "aac", out)
	return args
}

// Stream is an ffmpeg process encoding raw RGBA frames written to its stdin
type Stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	size   image.Point
	frames int
}

// OpenStream starts an encoder for w×h frames at fps. When audioFrom is set its
// audio track is muxed into the output.
func (e *FFmpegEncoder) OpenStream(ctx context.Context, w, h int, fps float64, out, audioFrom string) (*Stream, error) {
	if w <= 0 || h <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid stream geometry %dx%d@%v", w, h, fps)
	}

	s := &Stream{size: image.Pt(w, h)}
	s.cmd = exec.CommandContext(ctx, e.binary, e.streamArgs(w, h, fps, out, audioFrom)...)
	s.cmd.Stderr = &s.stderr

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	s.stdin = stdin

	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	return s, nil
}

func (e *FFmpegEncoder) streamArgs(w, h int, fps float64, out, audioFrom string) []string {
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-framerate", rate,
		"-i", "-",
	}
	if audioFrom != "" {
		args = append(args, "-i", audioFrom, "-map", "0:v", "-map", "1:a?", "-shortest")
	}
	args = append(args, "-r", rate, "-pix_fmt", "yuv420p", "-c:v", e.encoder)
	args = append(args, qualityArgs(e.encoder, e.quality)...)
	if audioFrom != "" {
		args = append(args, "-c:a", "aac")
	}
	return append(args, out)
}

// WriteFrame sends one frame to the encoder. Frames must match the stream size.
func (s *Stream) WriteFrame(img image.Image) error {
	if img.Bounds().Size() != s.size {
		return fmt.Errorf("frame %d is %v, stream expects %v", s.frames, img.Bounds().Size(), s.size)
	}
	if err := writeRawRGBA(s.stdin, img); err != nil {
		return fmt.Errorf("write raw error: %w", err)
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written so far
func (s *Stream) Frames() int { return s.frames }

// Close flushes the stream and waits for ffmpeg to finish
func (s *Stream) Close() error {
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg wait error: %w, output: %s", err, lastLines(s.stderr.Bytes(), 5))
	}
	return nil
}

// qualityArgs maps a quality setting onto each encoder's own rate control. Zero picks a default.
func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		if quality <= 0 {
			quality = 60
		}
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		if quality <= 0 {
			quality = 23
		}
		return []string{"-cq", strconv.Itoa(quality)}
	default: // libx264
		if quality <= 0 {
			quality = 20
		}
		return []string{"-crf", strconv.Itoa(quality), "-preset", "medium"}
	}
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix[:bounds.Dx()*bounds.Dy()*4])
	return err
}

func lastLines(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
