package director

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/audiosync"
	"github.com/ivlev/reframe/internal/config"
)

// Engine arbitrates between detections and decides where the camera looks.
// An Engine belongs to exactly one clip; create a new one per clip.
type Engine struct {
	cfg     config.EngineConfig
	frame   image.Point
	matcher audiosync.Matcher

	current    *FocusTarget
	focuses    ring[*FocusTarget]
	detections ring[analyzer.Detection]
}

// NewEngine creates an engine for a clip whose frames are frame.X × frame.Y pixels
func NewEngine(cfg config.EngineConfig, frame image.Point) *Engine {
	return &Engine{
		cfg:   cfg,
		frame: frame,
		matcher: audiosync.Matcher{
			IntentScale:  cfg.AudioBoostFactor,
			KeywordBoost: cfg.KeywordMatchBoost,
			MentionBoost: cfg.MentionBoost,
		},
		focuses:    newRing[*FocusTarget](cfg.FocusHistory),
		detections: newRing[analyzer.Detection](cfg.DetectionHistory),
	}
}

type scored struct {
	det   analyzer.Detection
	score Score
}

// SelectBestTarget picks the focus for time now. While the current focus is
// held it is returned unchanged unless a challenger beats it by the change threshold.
func (e *Engine) SelectBestTarget(dets []analyzer.Detection, seg *audiosync.AudioSegment, now float64) *FocusTarget {
	if len(dets) == 0 {
		return e.acceptDefault(now, "no detections")
	}

	candidates := make([]scored, len(dets))
	for i, d := range dets {
		s := e.Score(d, seg, now)
		d.Priority = s.Total()
		candidates[i] = scored{det: d, score: s}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].det.Priority > candidates[j].det.Priority
	})

	e.detections.push(dets...)

	best := candidates[0]
	if e.current != nil && now < e.current.HoldUntil {
		if best.det.Priority < e.current.FinalPriority+e.cfg.PriorityChangeThreshold {
			return e.current
		}
	}

	if best.det.Priority < e.cfg.MinPriorityToFocus {
		return e.acceptDefault(now, fmt.Sprintf("best %s scored %d, below %d", best.det.Kind(), best.det.Priority, e.cfg.MinPriorityToFocus))
	}

	target := &FocusTarget{
		Detection:     best.det,
		FinalPriority: best.det.Priority,
		Reason:        fmt.Sprintf("%s %s", best.det.Kind(), best.score),
		HoldUntil:     now + e.cfg.MinHoldDuration,
		Since:         now,
	}
	e.accept(target)
	return target
}

func (e *Engine) acceptDefault(now float64, reason string) *FocusTarget {
	det := analyzer.DefaultDetection(e.frame, now)
	target := &FocusTarget{
		Detection:     det,
		FinalPriority: det.Priority,
		Reason:        "default: " + reason,
		HoldUntil:     now + e.cfg.MinHoldDuration,
		Since:         now,
	}
	e.accept(target)
	return target
}

func (e *Engine) accept(t *FocusTarget) {
	e.current = t
	e.focuses.push(t)
}

// Score computes the comprehensive priority breakdown of one detection
func (e *Engine) Score(det analyzer.Detection, seg *audiosync.AudioSegment, now float64) Score {
	s := Score{
		Base:       det.BasePriority,
		Centrality: e.centrality(det.Center),
		Size:       e.sizeBoost(det),
		Confidence: int(det.Confidence * 5),
	}

	if seg != nil {
		s.Audio = e.matcher.Boost(*seg, det)
	}
	if e.isNovel(det) {
		s.Novelty = e.cfg.NoveltyBoost
	}
	if e.focusedRecently(det.Kind(), now) {
		s.Recency = -e.cfg.RecencyPenalty
	}
	if e.current != nil && e.current.Detection.Kind() == det.Kind() {
		s.Stay = e.cfg.StayBonus
	}

	return s
}

// isNovel reports that no same-kind detection was seen nearby in the recent window
func (e *Engine) isNovel(det analyzer.Detection) bool {
	for _, past := range e.detections.last(e.cfg.NoveltyWindow) {
		if past.Kind() != det.Kind() {
			continue
		}
		if distance(past.Center, det.Center) <= e.cfg.NoveltyRadius {
			return false
		}
	}
	return true
}

func (e *Engine) focusedRecently(kind analyzer.Kind, now float64) bool {
	for _, f := range e.focuses.items {
		if f.Detection.Kind() == kind && now-f.Since < e.cfg.RecencyWindow && f.Since <= now {
			return true
		}
	}
	return false
}

func (e *Engine) centrality(p image.Point) int {
	halfDiagonal := math.Hypot(float64(e.frame.X), float64(e.frame.Y)) / 2
	if halfDiagonal == 0 {
		return 0
	}

	ratio := distance(p, image.Pt(e.frame.X/2, e.frame.Y/2)) / halfDiagonal
	switch {
	case ratio <= 0.2:
		return 5
	case ratio <= 0.4:
		return 3
	default:
		return 0
	}
}

func (e *Engine) sizeBoost(det analyzer.Detection) int {
	frameArea := float64(e.frame.X * e.frame.Y)
	if frameArea == 0 {
		return 0
	}
	ratio := float64(det.Area()) / frameArea
	return int(math.Min(ratio/0.25, 1.0) * 10)
}

// Current returns the focus being held, or nil before the first decision
func (e *Engine) Current() *FocusTarget {
	return e.current
}

// History returns accepted targets, oldest first
func (e *Engine) History() []*FocusTarget {
	return append([]*FocusTarget(nil), e.focuses.items...)
}

// Reset forgets the current focus and all history
func (e *Engine) Reset() {
	e.current = nil
	e.focuses.clear()
	e.detections.clear()
}

func distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}
