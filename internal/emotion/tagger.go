package emotion

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
)

// modifierWindow is how many tokens back intensifiers and negators reach.
const modifierWindow = 2

// TurnContext carries the conversational context of the tagged text.
type TurnContext struct {
	Actor            memory.Actor
	Timestamp        time.Time
	ConversationType string
	PrevTurn         time.Time // zero if this is the first turn in the thread
}

// Result is the tagger output: the full distribution plus the blended
// sentiment polarity in [-1,1].
type Result struct {
	Emotions  []memory.EmotionScore
	Dominant  string
	Sentiment float64
}

// Primary returns the top-k emotions by intensity. The full distribution
// stays available for graph and reflection use.
func (r Result) Primary(k int) []memory.EmotionScore {
	if k <= 0 || k >= len(r.Emotions) {
		return r.Emotions
	}
	return r.Emotions[:k]
}

// Tagger derives emotion distributions from text against an immutable
// lexicon. Empty or unrecognized input yields a neutral Result, never an
// error.
type Tagger struct {
	lex *Lexicon
}

// NewTagger creates a Tagger over the given lexicon.
func NewTagger(lex *Lexicon) *Tagger {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Tagger{lex: lex}
}

// Neutral is the zero-intensity default for empty input.
func Neutral() Result {
	return Result{Emotions: nil, Dominant: "neutral", Sentiment: 0}
}

// Tag analyzes text in its conversational context. Deterministic for a
// fixed lexicon version.
func (t *Tagger) Tag(text string, tc TurnContext) Result {
	toks := Tokenize(text)
	if len(toks) == 0 {
		return Neutral()
	}

	scores := make(map[string]float64)
	var lexSentiment float64
	var hits int
	var pos, neg int

	for i, tok := range toks {
		// scan the preceding window once for modifiers
		mult := 1.0
		negated := false
		for j := i - 1; j >= 0 && j >= i-modifierWindow; j-- {
			if m, ok := t.lex.intensifiers[toks[j]]; ok {
				mult *= m
			}
			if t.lex.negators[toks[j]] {
				negated = true
			}
		}

		switch {
		case t.lex.positive[tok] && !negated, t.lex.negative[tok] && negated:
			pos++
		case t.lex.negative[tok] && !negated, t.lex.positive[tok] && negated:
			neg++
		}

		e, ok := t.lex.lookup(tok)
		if !ok {
			continue
		}

		intensity := e.intensity * mult
		label := e.label
		valence := e.valence

		if negated {
			valence = -valence
			if opp, ok := t.lex.opposites[label]; ok {
				label = opp
				intensity *= 0.8
			} else {
				intensity *= 0.4
			}
		}

		intensity = clamp01(intensity)
		if intensity > scores[label] {
			scores[label] = intensity
		}
		lexSentiment += valence * intensity
		hits++
	}

	if len(scores) == 0 && pos == 0 && neg == 0 {
		return Neutral()
	}

	scale := contextScale(tc)
	dist := make([]memory.EmotionScore, 0, len(scores))
	for label, inten := range scores {
		dist = append(dist, memory.EmotionScore{Label: label, Intensity: clamp01(inten * scale)})
	}
	sort.Slice(dist, func(i, j int) bool {
		if dist[i].Intensity != dist[j].Intensity {
			return dist[i].Intensity > dist[j].Intensity
		}
		return dist[i].Label < dist[j].Label
	})

	dominant := "neutral"
	if len(dist) > 0 {
		dominant = dist[0].Label
	}

	// Blend lexicon valence with a frequency-based polarity signal so a
	// single strong word does not dominate longer mixed text.
	var lexScore float64
	if hits > 0 {
		lexScore = lexSentiment / float64(hits)
	}
	var statScore float64
	if pos+neg > 0 {
		statScore = float64(pos-neg) / float64(pos+neg)
	}
	sentiment := 0.6*lexScore + 0.4*statScore

	return Result{
		Emotions:  dist,
		Dominant:  dominant,
		Sentiment: math.Max(-1, math.Min(1, sentiment)),
	}
}

// contextScale adjusts intensity by speaker role and thread recency.
// User turns count full weight; rapid back-and-forth runs slightly hotter.
func contextScale(tc TurnContext) float64 {
	scale := 1.0
	if tc.Actor == memory.ActorAgent {
		scale *= 0.85
	}
	if !tc.PrevTurn.IsZero() && !tc.Timestamp.IsZero() {
		gap := tc.Timestamp.Sub(tc.PrevTurn)
		switch {
		case gap >= 0 && gap < 5*time.Minute:
			scale *= 1.05
		case gap > time.Hour:
			scale *= 0.95
		}
	}
	if tc.ConversationType == "emotional_expression" {
		scale *= 1.1
	}
	return scale
}

// Tokenize splits text into lowercase word tokens. Apostrophes collapse so
// contractions match the negator list ("don't" -> "dont").
func Tokenize(text string) []string {
	cleaned := strings.NewReplacer("'", "", "’", "").Replace(text)
	fields := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 0 {
			result = append(result, w)
		}
	}
	return result
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
