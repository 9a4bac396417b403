package intent

import (
	"regexp"
	"strings"
)

// Intent is the closed set of purposes a chat message can resolve to.
type Intent string

const (
	IntentImage   Intent = "generate-image"
	IntentAudio   Intent = "generate-audio"
	IntentVideo   Intent = "generate-video"
	IntentChat    Intent = "chat"
	IntentUnclear Intent = "unclear"
)

// Threshold is the minimum confidence for auto-dispatch. Below it the
// dispatcher must ask the user to rephrase instead of invoking a generator.
const Threshold = 0.9

// Classification is the result of classifying a raw chat message.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Raw        string  `json:"raw_message"`
}

// AutoDispatch reports whether the classification is confident enough to
// invoke a generator without asking the user to clarify.
func (c Classification) AutoDispatch() bool {
	return c.Confidence >= Threshold
}

var (
	imageNounPattern = regexp.MustCompile(`\b(?:image|picture|photo|photograph|illustration|drawing|painting|portrait|logo|icon|wallpaper|artwork|sketch)s?\b`)
	audioNounPattern = regexp.MustCompile(`\b(?:audio|speech|voice|voiceover|sound|narration|podcast|song|music|tts)\b`)
	videoNounPattern = regexp.MustCompile(`\b(?:video|animation|clip|movie|film|footage|trailer)s?\b`)

	generateVerbPattern = regexp.MustCompile(`\b(?:generate|create|make|produce|render|compose|synthesize)\b`)

	imageVerbPattern = regexp.MustCompile(`\b(?:draw|paint|sketch|illustrate|visualize)\b`)
	audioVerbPattern = regexp.MustCompile(`\b(?:say|speak|read\s+aloud|narrate|pronounce|voice)\b`)
	videoVerbPattern = regexp.MustCompile(`\b(?:animate|film)\b`)

	// Explicit requests to stay in plain conversation.
	chatCuePattern = regexp.MustCompile(`^\s*(?:chat:|q:|question:|just\s+chat\b|let'?s\s+(?:chat|talk)\b)`)

	greetingPattern = regexp.MustCompile(`^\s*(?:hi|hey|hello|howdy|good\s+(?:morning|afternoon|evening)|how\s+are\s+you|thanks|thank\s+you)\b`)
)

// Scoring weights. A modality noun plus a generation verb clears the
// auto-dispatch threshold; either alone does not.
const (
	nounWeight        = 0.60
	verbWeight        = 0.35
	affinityWeight    = 0.20
	ambiguityMargin   = 0.15
	ambiguityFloor    = 0.50
	ambiguousScore    = 0.50
	greetingScore     = 0.30
	explicitChatScore = 0.95
)

// Classifier maps a raw chat message to an intent with a confidence score.
// It is a pure function of the input text: no side effects, no network.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify resolves message to an intent. It never fails: anything it does
// not recognize resolves to IntentUnclear with confidence 0.
func (c *Classifier) Classify(message string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return Classification{Intent: IntentUnclear, Confidence: 0, Raw: message}
	}

	if chatCuePattern.MatchString(normalized) {
		return Classification{Intent: IntentChat, Confidence: explicitChatScore, Raw: message}
	}

	scores := map[Intent]float64{
		IntentImage: modalityScore(normalized, imageNounPattern, imageVerbPattern),
		IntentAudio: modalityScore(normalized, audioNounPattern, audioVerbPattern),
		IntentVideo: modalityScore(normalized, videoNounPattern, videoVerbPattern),
	}

	best, second := rankScores(scores)
	if scores[best] == 0 {
		if greetingPattern.MatchString(normalized) {
			return Classification{Intent: IntentChat, Confidence: greetingScore, Raw: message}
		}
		return Classification{Intent: IntentUnclear, Confidence: 0, Raw: message}
	}

	// Two modalities scoring close together means the message plausibly
	// matches both. Resolve to unclear rather than guessing a priority.
	if scores[second] >= ambiguityFloor && scores[best]-scores[second] < ambiguityMargin {
		return Classification{Intent: IntentUnclear, Confidence: ambiguousScore, Raw: message}
	}

	return Classification{Intent: best, Confidence: scores[best], Raw: message}
}

// modalityScore combines noun and verb evidence for one modality.
func modalityScore(text string, noun, affineVerb *regexp.Regexp) float64 {
	score := 0.0
	if noun.MatchString(text) {
		score += nounWeight
		if generateVerbPattern.MatchString(text) {
			score += verbWeight
		}
		if affineVerb.MatchString(text) {
			score += affinityWeight
		}
	} else if affineVerb.MatchString(text) {
		score += verbWeight
		if generateVerbPattern.MatchString(text) {
			score += affinityWeight
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func rankScores(scores map[Intent]float64) (best, second Intent) {
	// Fixed iteration order keeps classification deterministic on ties.
	order := []Intent{IntentImage, IntentAudio, IntentVideo}
	best, second = order[0], order[1]
	if scores[second] > scores[best] {
		best, second = second, best
	}
	third := order[2]
	switch {
	case scores[third] > scores[best]:
		best, second, _ = third, best, second
	case scores[third] > scores[second]:
		second = third
	}
	return best, second
}
