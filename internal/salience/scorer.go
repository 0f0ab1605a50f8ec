// Package salience computes event importance as a weighted blend of five
// normalized factors. Only the recency factor moves with wall-clock time,
// so recall-time re-scoring works from stored raw factors without
// touching the original text.
package salience

import (
	"math"
	"strings"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
)

// Weights distributes importance across the five factors. They should sum
// to roughly 1.0; Validate enforces it.
type Weights struct {
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Emotional  float64 `json:"emotional"`
	Engagement float64 `json:"engagement"`
	Contextual float64 `json:"contextual"`
}

// DefaultWeights returns the standard factor distribution.
func DefaultWeights() Weights {
	return Weights{
		Recency:    0.30,
		Frequency:  0.15,
		Emotional:  0.25,
		Engagement: 0.15,
		Contextual: 0.15,
	}
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Recency + w.Frequency + w.Emotional + w.Engagement + w.Contextual
}

// Valid reports whether all weights are non-negative and sum to ~1.
func (w Weights) Valid() bool {
	for _, v := range []float64{w.Recency, w.Frequency, w.Emotional, w.Engagement, w.Contextual} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return math.Abs(w.Sum()-1.0) < 0.01
}

// Scorer is a pure scoring function over (raw factors, weights). It holds
// no mutable state; term statistics are supplied per call.
type Scorer struct {
	weights Weights
	lambda  float64 // recency decay rate per hour
	topics  map[string][]string
}

// NewScorer builds a Scorer. halfLifeHours controls recency decay
// (score halves every half-life); topics maps category names to keyword
// lists for the contextual-relevance factor.
func NewScorer(w Weights, halfLifeHours float64, topics map[string][]string) *Scorer {
	if halfLifeHours <= 0 {
		halfLifeHours = 168 // one week
	}
	return &Scorer{
		weights: w,
		lambda:  math.Ln2 / halfLifeHours,
		topics:  topics,
	}
}

// Weights returns the configured factor weights.
func (s *Scorer) Weights() Weights { return s.weights }

// Recency returns e^(-λΔt) for an event of the given age, in [0,1] and
// strictly decreasing in age.
func (s *Scorer) Recency(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp(-s.lambda * age.Hours())
}

// Score combines stored raw factors with the live recency term. Always
// in [0,1] for any valid weight configuration.
func (s *Scorer) Score(f memory.Factors, age time.Duration) float64 {
	raw := s.weights.Recency*s.Recency(age) +
		s.weights.Frequency*clamp01(f.Frequency) +
		s.weights.Emotional*clamp01(f.Emotional) +
		s.weights.Engagement*clamp01(f.Engagement) +
		s.weights.Contextual*clamp01(f.Contextual)
	return clamp01(raw)
}

// Factors computes the four time-independent raw factors for a new event.
// text is the raw content (punctuation intact); tokens its normalized
// form. termCounts holds how often each content term was seen before in
// this namespace; zero counts mean novel terms.
func (s *Scorer) Factors(text string, tokens []string, emotions []memory.EmotionScore, termCounts map[string]int64) memory.Factors {
	return memory.Factors{
		Frequency:  frequencyFactor(tokens, termCounts),
		Emotional:  emotionalFactor(emotions),
		Engagement: engagementFactor(text, tokens),
		Contextual: s.contextualFactor(tokens),
	}
}

// stopwords never earn frequency credit and penalize boilerplate.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"i": true, "im": true, "you": true, "it": true, "is": true, "am": true,
	"are": true, "was": true, "to": true, "of": true, "in": true, "on": true,
	"for": true, "with": true, "that": true, "this": true, "at": true,
	"my": true, "me": true, "we": true, "be": true, "so": true, "do": true,
	"have": true, "has": true, "ok": true, "okay": true, "yes": true,
	"no": true, "hi": true, "hello": true, "hey": true, "thanks": true,
}

// frequencyFactor rewards rare recurring terms. A term seen once or twice
// before scores highest; terms repeated constantly fade toward generic,
// and never-seen terms earn nothing yet.
func frequencyFactor(tokens []string, counts map[string]int64) float64 {
	var content, score float64
	for _, tok := range tokens {
		if stopwords[tok] || len(tok) < 3 {
			continue
		}
		content++
		c := counts[tok]
		if c >= 1 {
			score += 1.0 / math.Sqrt(float64(c))
		}
	}
	if content == 0 {
		return 0
	}
	// heavy boilerplate (mostly stopwords) is penalized via the content ratio
	ratio := content / float64(len(tokens))
	return clamp01((score / content) * math.Min(1, ratio*2))
}

// emotionalFactor is the max tagged intensity, lightly boosted when
// several emotions fire at once.
func emotionalFactor(emotions []memory.EmotionScore) float64 {
	var max float64
	for _, e := range emotions {
		if e.Intensity > max {
			max = e.Intensity
		}
	}
	if len(emotions) > 2 {
		max *= 1.1
	}
	return clamp01(max)
}

// engagement markers that signal the speaker wants this remembered.
var engagementMarkers = map[string]bool{
	"important": true, "remember": true, "promise": true, "always": true,
	"never": true, "favorite": true, "hate": true, "love": true,
	"birthday": true, "anniversary": true,
}

// engagementFactor derives involvement from punctuation, length, and
// explicit markers.
func engagementFactor(text string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var score float64

	// length band: very short exchanges are low-engagement, mid-length peaks
	n := len(tokens)
	switch {
	case n >= 8 && n <= 60:
		score += 0.4
	case n > 60:
		score += 0.3
	case n >= 4:
		score += 0.2
	}

	for _, tok := range tokens {
		if engagementMarkers[tok] {
			score += 0.2
			break
		}
	}
	if strings.Contains(text, "!") {
		score += 0.3
	}
	if strings.Contains(text, "?") {
		score += 0.1
	}
	return clamp01(score)
}

// contextualFactor measures overlap with configured topic categories,
// taking the best-matching category's hit ratio.
func (s *Scorer) contextualFactor(tokens []string) float64 {
	if len(s.topics) == 0 || len(tokens) == 0 {
		return 0
	}
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	var best float64
	for _, keywords := range s.topics {
		if len(keywords) == 0 {
			continue
		}
		var hits int
		for _, kw := range keywords {
			if set[strings.ToLower(kw)] {
				hits++
			}
		}
		r := float64(hits) / float64(len(keywords))
		// even a single topic hit is a meaningful signal
		if hits > 0 && r < 0.3 {
			r = 0.3
		}
		if r > best {
			best = r
		}
	}
	return clamp01(best)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
