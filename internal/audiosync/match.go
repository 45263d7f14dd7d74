package audiosync

import (
	"sort"
	"strings"

	"github.com/ivlev/reframe/internal/analyzer"
)

// preferredKinds maps an intent to the detection kinds it draws attention to
var preferredKinds = map[Intent][]analyzer.Kind{
	IntentDemonstrative: {analyzer.KindMotion, analyzer.KindObject},
	IntentCode:          {analyzer.KindText},
	IntentUI:            {analyzer.KindMotion, analyzer.KindText},
	IntentProduct:       {analyzer.KindObject, analyzer.KindFace},
	IntentExplanation:   {analyzer.KindFace},
}

// Matcher turns an audio segment into per-detection priority boosts.
// IntentScale is relative to 20: at 20 the segment's PriorityBoost is applied as is.
type Matcher struct {
	IntentScale  int
	KeywordBoost int
	MentionBoost int
}

func DefaultMatcher() Matcher {
	return Matcher{IntentScale: 20, KeywordBoost: 10, MentionBoost: 15}
}

// Prefers reports whether the intent favours detections of kind k
func Prefers(intent Intent, k analyzer.Kind) bool {
	for _, pk := range preferredKinds[intent] {
		if pk == k {
			return true
		}
	}
	return false
}

// Boost is the priority added to det while seg is being spoken
func (m Matcher) Boost(seg AudioSegment, det analyzer.Detection) int {
	boost := 0
	if Prefers(seg.Intent, det.Kind()) {
		boost += seg.PriorityBoost * m.IntentScale / 20
	}

	text, ok := det.Text()
	if !ok {
		return boost
	}

	lower := strings.ToLower(text.Text)
	words := make(map[string]bool)
	for _, tok := range Tokenize(lower) {
		words[tok] = true
	}
	for _, kw := range seg.Keywords {
		if words[strings.ToLower(kw)] {
			boost += m.KeywordBoost
		}
	}
	for _, item := range seg.MentionedItems {
		if item != "" && strings.Contains(lower, strings.ToLower(item)) {
			boost += m.MentionBoost
			break
		}
	}

	return boost
}

// MatchAudioToDetections boosts copies of dets and orders them by priority, highest first
func (m Matcher) MatchAudioToDetections(seg AudioSegment, dets []analyzer.Detection) []analyzer.Detection {
	out := make([]analyzer.Detection, len(dets))
	for i, d := range dets {
		d.Priority += m.Boost(seg, d)
		out[i] = d
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// MatchAudioToDetections applies the default matcher
func MatchAudioToDetections(seg AudioSegment, dets []analyzer.Detection) []analyzer.Detection {
	return DefaultMatcher().MatchAudioToDetections(seg, dets)
}
