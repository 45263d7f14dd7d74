package director

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/reframe/internal/analyzer"
	"github.com/ivlev/reframe/internal/audiosync"
	"github.com/ivlev/reframe/internal/config"
)

var hd = image.Pt(1920, 1080)

func newTestEngine() *Engine {
	return NewEngine(config.Default().Engine, hd)
}

func boxAt(cx, cy, size int) image.Rectangle {
	return image.Rect(cx-size/2, cy-size/2, cx+size/2, cy+size/2)
}

func face(cx, cy, size int, ts float64) analyzer.Detection {
	return analyzer.NewDetection(boxAt(cx, cy, size), 1.0, analyzer.PrioritySpeakingFace, ts, analyzer.FaceMeta{Speaking: true, Eyes: 2})
}

func TestHoldMonotonicity(t *testing.T) {
	e := newTestEngine()

	current := e.SelectBestTarget([]analyzer.Detection{face(960, 540, 400, 0)}, nil, 0)
	require.Equal(t, analyzer.KindFace, current.Detection.Kind())
	require.Equal(t, 2.0, current.HoldUntil)
	original := current.Detection

	challengers := [][]analyzer.Detection{
		{face(300, 300, 400, 0)},
		{analyzer.NewDetection(boxAt(200, 900, 300), 1, analyzer.PriorityTitleText, 0, analyzer.TextMeta{Text: "Launch Day", Large: true})},
		{analyzer.NewDetection(boxAt(1500, 200, 60), 0.9, analyzer.PriorityCursor, 0, analyzer.MotionMeta{Cursor: true, Magnitude: 9, Area: 3600})},
		{analyzer.NewDetection(boxAt(960, 540, 800), 0.6, analyzer.PriorityObject, 0, analyzer.ObjectMeta{Area: 640000})},
	}

	for _, now := range []float64{0.1, 0.5, 1.2, 1.99} {
		for _, dets := range challengers {
			score := e.Score(dets[0], nil, now)
			require.Less(t, score.Total(), current.FinalPriority+e.cfg.PriorityChangeThreshold)

			got := e.SelectBestTarget(dets, nil, now)
			assert.Same(t, current, got)
			assert.Equal(t, original, got.Detection)
		}
	}
}

func TestStrongChallengerBreaksHold(t *testing.T) {
	e := newTestEngine()
	current := e.SelectBestTarget([]analyzer.Detection{face(960, 540, 400, 0)}, nil, 0)

	seg := &audiosync.AudioSegment{
		Intent:         audiosync.IntentCode,
		PriorityBoost:  35,
		Keywords:       []string{"deploy", "main", "branch"},
		MentionedItems: []string{"main branch"},
	}
	text := analyzer.NewDetection(boxAt(400, 300, 300), 1, analyzer.PriorityTitleText, 1, analyzer.TextMeta{Text: "Deploy Main Branch"})

	got := e.SelectBestTarget([]analyzer.Detection{text}, seg, 1)
	assert.NotSame(t, current, got)
	assert.Equal(t, analyzer.KindText, got.Detection.Kind())
	assert.GreaterOrEqual(t, got.FinalPriority, current.FinalPriority+20)
	assert.Equal(t, 3.0, got.HoldUntil)
	assert.Same(t, got, e.Current())
}

func TestHoldExpiry(t *testing.T) {
	e := newTestEngine()
	first := e.SelectBestTarget([]analyzer.Detection{face(960, 540, 400, 0)}, nil, 0)

	text := analyzer.NewDetection(boxAt(500, 500, 200), 0.8, analyzer.PriorityText, 2.5, analyzer.TextMeta{Text: "pricing table"})
	got := e.SelectBestTarget([]analyzer.Detection{text}, nil, 2.5)

	assert.NotSame(t, first, got)
	assert.Equal(t, analyzer.KindText, got.Detection.Kind())
	assert.Equal(t, 2.5, got.Since)
	assert.Len(t, e.History(), 2)
}

func TestThresholdFallback(t *testing.T) {
	e := newTestEngine()

	weak := []analyzer.Detection{
		analyzer.NewDetection(image.Rect(0, 0, 100, 100), 0.2, analyzer.PrioritySaliency, 0, analyzer.SaliencyMeta{EdgePixels: 40}),
		analyzer.NewDetection(image.Rect(1800, 980, 1900, 1060), 0.2, analyzer.PrioritySaliency, 0, analyzer.SaliencyMeta{EdgePixels: 30}),
	}
	for _, d := range weak {
		require.Less(t, e.Score(d, nil, 0).Total(), e.cfg.MinPriorityToFocus)
	}

	got := e.SelectBestTarget(weak, nil, 0)
	assert.True(t, got.IsDefault())
	assert.Equal(t, analyzer.KindDefault, got.Detection.Kind())
	assert.Equal(t, image.Pt(960, 540), got.Detection.Center)
	assert.Equal(t, analyzer.PriorityDefault, got.FinalPriority)
	assert.Same(t, got, e.Current())
}

func TestEmptyDetectionsGiveDefault(t *testing.T) {
	e := newTestEngine()
	got := e.SelectBestTarget(nil, nil, 4)

	assert.True(t, got.IsDefault())
	assert.Equal(t, image.Pt(960, 540), got.Detection.Center)
	assert.Equal(t, 6.0, got.HoldUntil)
}

func TestIntentBiasedScore(t *testing.T) {
	e := newTestEngine()
	seg := &audiosync.AudioSegment{
		Intent:        audiosync.IntentUI,
		Keywords:      []string{"submit", "button"},
		PriorityBoost: 18,
	}
	text := analyzer.NewDetection(boxAt(960, 900, 100), 0.5, analyzer.PriorityText, 0, analyzer.TextMeta{Text: "Submit"})

	s := e.Score(text, seg, 0)
	assert.Equal(t, 98, s.Base+s.Audio)
	assert.Equal(t, 98+s.Novelty+s.Recency+s.Centrality+s.Size+s.Confidence+s.Stay, s.Total())

	got := e.SelectBestTarget([]analyzer.Detection{text}, seg, 0)
	assert.Equal(t, s.Total(), got.FinalPriority)
	assert.Equal(t, s.Total(), got.Detection.Priority)
	assert.Contains(t, got.Reason, "audio +28")
}

func TestTiesKeepEmissionOrder(t *testing.T) {
	e := newTestEngine()
	left := face(760, 540, 300, 0)
	right := face(1160, 540, 300, 0)

	require.Equal(t, e.Score(left, nil, 0), e.Score(right, nil, 0))

	got := e.SelectBestTarget([]analyzer.Detection{left, right}, nil, 0)
	assert.Equal(t, left.Box, got.Detection.Box)
}

func TestNoveltyAndRecency(t *testing.T) {
	e := newTestEngine()
	e.SelectBestTarget([]analyzer.Detection{face(960, 540, 400, 0)}, nil, 0)

	near := face(1000, 560, 400, 1)
	far := face(200, 200, 400, 1)
	text := analyzer.NewDetection(boxAt(980, 540, 100), 0.5, analyzer.PriorityText, 1, analyzer.TextMeta{Text: "hello"})

	assert.Zero(t, e.Score(near, nil, 1).Novelty)
	assert.Equal(t, 15, e.Score(far, nil, 1).Novelty)
	assert.Equal(t, 15, e.Score(text, nil, 1).Novelty, "novelty is per kind")

	assert.Equal(t, -10, e.Score(near, nil, 1).Recency)
	assert.Zero(t, e.Score(near, nil, 3.5).Recency)
	assert.Zero(t, e.Score(text, nil, 1).Recency)

	assert.Equal(t, 8, e.Score(near, nil, 1).Stay)
	assert.Zero(t, e.Score(text, nil, 1).Stay)
}

func TestCentralityAndSize(t *testing.T) {
	e := NewEngine(config.Default().Engine, image.Pt(1000, 1000))

	tests := []struct {
		name       string
		det        analyzer.Detection
		centrality int
		size       int
		confidence int
	}{
		{"centre quarter frame", analyzer.NewDetection(boxAt(500, 500, 500), 1, 60, 0, analyzer.ObjectMeta{}), 5, 10, 5},
		{"near centre", analyzer.NewDetection(boxAt(550, 550, 250), 0.5, 60, 0, analyzer.ObjectMeta{}), 5, 2, 2},
		{"mid ring", analyzer.NewDetection(boxAt(680, 680, 100), 0.6, 60, 0, analyzer.ObjectMeta{}), 3, 0, 3},
		{"corner", analyzer.NewDetection(boxAt(900, 900, 100), 0.99, 60, 0, analyzer.ObjectMeta{}), 0, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.Score(tt.det, nil, 0)
			assert.Equal(t, tt.centrality, s.Centrality)
			assert.Equal(t, tt.size, s.Size)
			assert.Equal(t, tt.confidence, s.Confidence)
		})
	}
}

func TestHistoryBoundsAndReset(t *testing.T) {
	cfg := config.Default().Engine
	cfg.FocusHistory = 3
	cfg.MinHoldDuration = 0
	e := NewEngine(cfg, hd)

	var last *FocusTarget
	for i := 0; i < 6; i++ {
		last = e.SelectBestTarget([]analyzer.Detection{face(200+i*300, 540, 400, float64(i))}, nil, float64(i))
	}

	history := e.History()
	require.Len(t, history, 3)
	assert.Same(t, last, history[2])

	e.Reset()
	assert.Nil(t, e.Current())
	assert.Empty(t, e.History())
	assert.Equal(t, 15, e.Score(face(200, 540, 400, 7), nil, 7).Novelty)
}

func TestEnginesAreIndependent(t *testing.T) {
	a := newTestEngine()
	b := newTestEngine()

	a.SelectBestTarget([]analyzer.Detection{face(960, 540, 400, 0)}, nil, 0)

	assert.Nil(t, b.Current())
	assert.Equal(t, 15, b.Score(face(960, 540, 400, 0), nil, 0).Novelty)
}
