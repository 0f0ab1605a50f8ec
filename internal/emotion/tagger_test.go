package emotion

import (
	"reflect"
	"testing"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
)

func TestTagExcitedTurn(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())

	res := tagger.Tag("I am so excited about the trip!", TurnContext{
		Actor:     memory.ActorUser,
		Timestamp: time.Now(),
	})

	if res.Dominant != "joy" {
		t.Fatalf("dominant = %q, want joy (distribution: %v)", res.Dominant, res.Emotions)
	}
	if res.Emotions[0].Intensity <= 0.6 {
		t.Errorf("joy intensity = %.2f, want > 0.6", res.Emotions[0].Intensity)
	}
	if res.Sentiment <= 0 {
		t.Errorf("sentiment = %.2f, want positive", res.Sentiment)
	}
}

func TestTagEmptyTextIsNeutral(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())

	for _, text := range []string{"", "   ", "...!?"} {
		res := tagger.Tag(text, TurnContext{Actor: memory.ActorUser})
		if res.Dominant != "neutral" {
			t.Errorf("Tag(%q) dominant = %q, want neutral", text, res.Dominant)
		}
		if len(res.Emotions) != 0 {
			t.Errorf("Tag(%q) emotions = %v, want none", text, res.Emotions)
		}
		if res.Sentiment != 0 {
			t.Errorf("Tag(%q) sentiment = %.2f, want 0", text, res.Sentiment)
		}
	}
}

func TestIntensifierAmplifies(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())
	ctx := TurnContext{Actor: memory.ActorUser}

	plain := tagger.Tag("I am happy today", ctx)
	boosted := tagger.Tag("I am extremely happy today", ctx)

	if boosted.Emotions[0].Intensity <= plain.Emotions[0].Intensity {
		t.Errorf("intensified %.2f, plain %.2f: intensifier should amplify",
			boosted.Emotions[0].Intensity, plain.Emotions[0].Intensity)
	}
}

func TestNegationFlipsValence(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())
	ctx := TurnContext{Actor: memory.ActorUser}

	res := tagger.Tag("I am not happy about this", ctx)

	if res.Dominant == "joy" {
		t.Fatalf("negated happy still tagged joy: %v", res.Emotions)
	}
	if res.Dominant != "sadness" {
		t.Errorf("dominant = %q, want sadness (joy's opposite)", res.Dominant)
	}
	if res.Sentiment >= 0 {
		t.Errorf("sentiment = %.2f, want negative after negation", res.Sentiment)
	}
}

func TestNegationOutsideWindowIgnored(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())
	ctx := TurnContext{Actor: memory.ActorUser}

	// "not" is four tokens before "happy", beyond the modifier window
	res := tagger.Tag("not that it matters im happy", ctx)
	if res.Dominant != "joy" {
		t.Errorf("dominant = %q, want joy (negator outside window)", res.Dominant)
	}
}

func TestTagDeterministic(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())
	ctx := TurnContext{Actor: memory.ActorUser, Timestamp: time.Unix(1700000000, 0)}

	a := tagger.Tag("I'm worried and a little scared, but also hopeful", ctx)
	b := tagger.Tag("I'm worried and a little scared, but also hopeful", ctx)

	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical input produced different results:\n%v\n%v", a, b)
	}
	if len(a.Emotions) < 3 {
		t.Errorf("mixed text should keep the full distribution, got %v", a.Emotions)
	}
}

func TestAgentTurnsScaledDown(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())

	user := tagger.Tag("I am happy", TurnContext{Actor: memory.ActorUser})
	agent := tagger.Tag("I am happy", TurnContext{Actor: memory.ActorAgent})

	if agent.Emotions[0].Intensity >= user.Emotions[0].Intensity {
		t.Errorf("agent %.2f >= user %.2f: speaker role should scale intensity",
			agent.Emotions[0].Intensity, user.Emotions[0].Intensity)
	}
}

func TestPrimaryKeepsTopK(t *testing.T) {
	tagger := NewTagger(DefaultLexicon())
	res := tagger.Tag("scared, angry, sad, lonely and ashamed", TurnContext{Actor: memory.ActorUser})

	top := res.Primary(2)
	if len(top) != 2 {
		t.Fatalf("Primary(2) returned %d emotions", len(top))
	}
	if len(res.Emotions) < 4 {
		t.Errorf("full distribution should survive Primary, got %v", res.Emotions)
	}
}

func TestTokenizeContractions(t *testing.T) {
	toks := Tokenize("I don't like it")
	want := []string{"i", "dont", "like", "it"}
	if !reflect.DeepEqual(toks, want) {
		t.Errorf("Tokenize = %v, want %v", toks, want)
	}
}
