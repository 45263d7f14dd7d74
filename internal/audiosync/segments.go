package audiosync

import (
	"regexp"
	"strings"
	"unicode"
)

// Intent is the inferred purpose of a stretch of speech
type Intent string

const (
	IntentDemonstrative Intent = "demonstrative"
	IntentCode          Intent = "code"
	IntentUI            Intent = "ui_interaction"
	IntentProduct       Intent = "product_focus"
	IntentExplanation   Intent = "explanation"
	IntentGeneral       Intent = "general"
)

// AudioSegment is a transcript entry annotated with keywords and intent
type AudioSegment struct {
	Start          float64
	End            float64
	Text           string
	Keywords       []string
	Intent         Intent
	PriorityBoost  int
	MentionedItems []string
}

const (
	maxKeywords     = 10
	urgencyBoost    = 10
	questionBoost   = 5
	transitionBoost = 5
)

// intentVocabularies are listed in tie-break order
var intentVocabularies = []struct {
	intent Intent
	words  map[string]bool
}{
	{IntentDemonstrative, wordSet("this", "here", "look", "see", "watch", "show", "showing", "notice", "these", "there")},
	{IntentCode, wordSet("code", "function", "variable", "class", "method", "import", "return", "loop", "error", "bug", "api", "syntax", "compile")},
	{IntentUI, wordSet("click", "button", "menu", "tab", "select", "scroll", "type", "submit", "open", "drag", "dropdown", "settings", "screen", "window")},
	{IntentProduct, wordSet("product", "feature", "device", "design", "price", "model", "brand", "package", "item", "quality")},
	{IntentExplanation, wordSet("because", "means", "explain", "reason", "basically", "essentially", "why", "how", "understand", "concept")},
}

var intentBaseBoost = map[Intent]int{
	IntentDemonstrative: 20,
	IntentProduct:       20,
	IntentUI:            18,
	IntentCode:          15,
	IntentExplanation:   10,
	IntentGeneral:       5,
}

var (
	stopWords = wordSet(
		"a", "an", "the", "and", "or", "but", "is", "are", "was", "were", "be", "been", "being",
		"to", "of", "in", "on", "at", "for", "with", "from", "by", "as", "into", "about",
		"it", "its", "it's", "i", "you", "we", "they", "he", "she", "me", "my", "your", "our", "their",
		"that", "do", "does", "did", "have", "has", "had", "will", "would", "can", "could", "should",
		"just", "um", "uh", "like", "really", "very", "also", "all", "any", "some", "not", "no", "if",
		"so", "then", "now", "okay", "ok", "yeah", "let's", "going", "gonna", "get", "got",
	)
	urgencyWords    = wordSet("important", "critical", "key", "crucial", "essential", "must", "remember", "attention")
	transitionWords = wordSet("now", "next", "finally", "first", "then", "so", "let's")
	questionWords   = wordSet("what", "why", "how", "when", "where", "which", "who")
	actionVerbs     = wordSet("click", "press", "select", "open", "tap", "type", "choose")

	quotedPattern = regexp.MustCompile(`["“]([^"”]+)["”]`)
)

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Tokenize lowercases text and splits it into word tokens, keeping apostrophes
func Tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// AnalyzeTranscriptSegments annotates every transcript entry
func AnalyzeTranscriptSegments(entries []TranscriptEntry) []AudioSegment {
	segments := make([]AudioSegment, 0, len(entries))
	for _, e := range entries {
		segments = append(segments, AnalyzeSegment(e))
	}
	return segments
}

// AnalyzeSegment derives keywords, intent, boost and mentioned items for one entry
func AnalyzeSegment(e TranscriptEntry) AudioSegment {
	tokens := Tokenize(e.Text)
	intent := classifyIntent(tokens)

	return AudioSegment{
		Start:          e.Start,
		End:            e.End,
		Text:           e.Text,
		Keywords:       extractKeywords(tokens),
		Intent:         intent,
		PriorityBoost:  priorityBoost(intent, e.Text, tokens),
		MentionedItems: mentionedItems(e.Text, tokens),
	}
}

func extractKeywords(tokens []string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, tok := range tokens {
		if stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

func classifyIntent(tokens []string) Intent {
	best := IntentGeneral
	bestVotes := 0
	for _, vocab := range intentVocabularies {
		votes := 0
		for _, tok := range tokens {
			if vocab.words[tok] {
				votes++
			}
		}
		if votes > bestVotes {
			best, bestVotes = vocab.intent, votes
		}
	}
	return best
}

func priorityBoost(intent Intent, text string, tokens []string) int {
	boost := intentBaseBoost[intent]

	if containsAny(tokens, urgencyWords) {
		boost += urgencyBoost
	}
	if strings.Contains(text, "?") || (len(tokens) > 0 && questionWords[tokens[0]]) {
		boost += questionBoost
	}
	if containsAny(tokens, transitionWords) {
		boost += transitionBoost
	}

	return boost
}

// mentionedItems collects quoted phrases and the object of action verbs
func mentionedItems(text string, tokens []string) []string {
	seen := make(map[string]bool)
	var items []string
	add := func(item string) {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			return
		}
		seen[item] = true
		items = append(items, item)
	}

	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	for i, tok := range tokens {
		if !actionVerbs[tok] {
			continue
		}
		for _, next := range tokens[i+1:] {
			if stopWords[next] {
				continue
			}
			add(next)
			break
		}
	}

	return items
}

func containsAny(tokens []string, set map[string]bool) bool {
	for _, tok := range tokens {
		if set[tok] {
			return true
		}
	}
	return false
}

// SegmentAt returns the segment spanning time t
func SegmentAt(segments []AudioSegment, t float64) (AudioSegment, bool) {
	for _, s := range segments {
		if t >= s.Start && t < s.End {
			return s, true
		}
	}
	return AudioSegment{}, false
}
