package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/reframe/internal/cropper"
	"github.com/ivlev/reframe/internal/renderer"
	"github.com/ivlev/reframe/internal/store"
	"github.com/ivlev/reframe/internal/system"
)

// Mode selects how a clip is reframed
type Mode string

const (
	// ModeCrop is the smart cropper: one static crop window per clip
	ModeCrop Mode = "crop"
	// ModeDynamic follows the camera timeline frame by frame
	ModeDynamic Mode = "dynamic"
	// ModePan follows the timeline with a single ffmpeg crop at base zoom
	ModePan Mode = "pan"
)

// Job is one clip to reframe
type Job struct {
	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	Category   string `yaml:"category,omitempty"`
	Platform   string `yaml:"platform,omitempty"`
	Transcript string `yaml:"transcript,omitempty"`
	Mode       Mode   `yaml:"mode,omitempty"`
	NoTracking bool   `yaml:"no_tracking,omitempty"`
}

// Result is the outcome of one job
type Result struct {
	Job      Job
	RunID    string
	Plan     *cropper.Plan
	Timeline *renderer.Timeline
	Elapsed  time.Duration
	Err      error
}

// Manifest lists the clips of a batch
type Manifest struct {
	Clips []Job `yaml:"clips"`
}

// LoadManifest reads a batch manifest. Relative paths are resolved against the manifest's directory.
func LoadManifest(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	for i := range m.Clips {
		job := &m.Clips[i]
		if job.Input == "" || job.Output == "" {
			return nil, fmt.Errorf("manifest %s: clip %d needs input and output", path, i)
		}
		if job.Mode == "" {
			job.Mode = ModeCrop
		}
		switch job.Mode {
		case ModeCrop, ModeDynamic, ModePan:
		default:
			return nil, fmt.Errorf("manifest %s: clip %d has unknown mode %q", path, i, job.Mode)
		}
		job.Input = resolve(job.Input)
		job.Output = resolve(job.Output)
		job.Transcript = resolve(job.Transcript)
	}
	return m.Clips, nil
}

// Process runs one job and records it in the ledger when one is configured
func (r *Runner) Process(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{Job: job}

	if r.runs != nil {
		run := &store.Run{
			Input:    job.Input,
			Output:   job.Output,
			Category: job.Category,
			Mode:     string(job.Mode),
			Target:   r.platform(job),
		}
		if err := r.runs.CreateRun(ctx, run); err != nil {
			r.logger.Warn().Err(err).Str("clip", job.Input).Msg("failed to record run")
		} else {
			res.RunID = run.ID
		}
	}

	var result store.Result
	switch job.Mode {
	case ModeDynamic, ModePan:
		res.Timeline, res.Err = r.Dynamic(ctx, job)
		if res.Timeline != nil {
			result.Reason = fmt.Sprintf("%d targets", len(res.Timeline.Targets))
		}
	default:
		res.Plan, res.Err = r.SmartCrop(ctx, job)
		if res.Plan != nil {
			result.Crop = res.Plan.Window(0)
			result.Reason = string(res.Plan.Strategy)
		}
	}
	res.Elapsed = time.Since(start)

	if res.RunID != "" {
		// the ledger outlives a cancelled batch
		ledgerCtx := context.WithoutCancel(ctx)
		var err error
		if res.Err != nil {
			err = r.runs.FailRun(ledgerCtx, res.RunID, res.Err)
		} else {
			err = r.runs.FinishRun(ledgerCtx, res.RunID, result)
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("run", res.RunID).Msg("failed to update run")
		}
	}
	return res
}

// Batch processes jobs on a bounded worker pool. A failing clip never stops
// the others; cancelling ctx abandons clips that have not started yet.
// Results are returned in job order.
func (r *Runner) Batch(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = system.RecommendedWorkers()
	}

	var g errgroup.Group
	g.SetLimit(workers)

	r.logger.Info().Int("clips", len(jobs)).Int("workers", workers).Msg("batch started")

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Job: job, Err: err}
			continue
		}
		i, job := i, job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Job: job, Err: err}
				return nil
			}

			res := r.Process(ctx, job)
			if res.Err != nil {
				r.logger.Error().Err(res.Err).Str("clip", job.Input).Msg("clip failed")
			} else {
				r.logger.Info().
					Str("clip", job.Input).
					Str("output", job.Output).
					Dur("elapsed", res.Elapsed).
					Msg("clip done")
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}
