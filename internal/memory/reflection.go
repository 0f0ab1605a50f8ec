package memory

import "time"

// ReflectionKind distinguishes daily from weekly windows.
type ReflectionKind string

const (
	ReflectionDaily  ReflectionKind = "daily"
	ReflectionWeekly ReflectionKind = "weekly"
)

// Trend classifies a weekly window relative to the prior one.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Theme is a cluster of related key events inside a reflection window.
type Theme struct {
	Label    string   `json:"label"`
	EventIDs []string `json:"event_ids"`
}

// Tone is the intensity-weighted emotional aggregate of a window.
type Tone struct {
	Dominant  string         `json:"dominant"`
	Emotions  []EmotionScore `json:"emotions"`
	Sentiment float64        `json:"sentiment"`
}

// Reflection is a template-assembled summary of one time window.
// Reflections persist independently of the events that produced them.
type Reflection struct {
	ID              string         `json:"id"`
	Namespace       string         `json:"namespace"`
	Kind            ReflectionKind `json:"kind"`
	PeriodStart     time.Time      `json:"period_start"`
	PeriodEnd       time.Time      `json:"period_end"`
	KeyEvents       []string       `json:"key_events"`
	Themes          []Theme        `json:"themes"`
	LearningMoments []string       `json:"learning_moments"`
	Tone            Tone           `json:"emotional_tone"`
	Trend           Trend          `json:"trend,omitempty"`
	Empty           bool           `json:"empty"`
	CreatedAt       time.Time      `json:"created_at"`
}
