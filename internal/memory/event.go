package memory

import (
	"time"
)

// Actor identifies which side of the conversation produced a turn.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// Turn is a single dialogue turn handed to the engine by the dialogue layer.
type Turn struct {
	Namespace      string    `json:"namespace"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Actor          Actor     `json:"actor"`
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
}

// EmotionScore is one label/intensity pair from the tagger.
type EmotionScore struct {
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"`
}

// Relation is a weighted edge from an event to another event.
type Relation struct {
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
}

// Factors holds the raw salience factors that do not move with wall-clock
// time. Recency is deliberately absent: it is recomputed at recall time
// against the event timestamp, so stored records are never rewritten.
type Factors struct {
	Frequency  float64 `json:"frequency"`
	Emotional  float64 `json:"emotional"`
	Engagement float64 `json:"engagement"`
	Contextual float64 `json:"contextual"`
}

// Event is one durable memory record. Content is immutable after creation;
// Salience is the creation-time snapshot.
type Event struct {
	ID             string         `json:"id"`
	Seq            int64          `json:"seq"`
	Namespace      string         `json:"namespace"`
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Actor          Actor          `json:"actor"`
	EventType      string         `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	Emotions       []EmotionScore `json:"emotions"`
	Dominant       string         `json:"dominant_emotion"`
	Sentiment      float64        `json:"sentiment"`
	Salience       float64        `json:"salience_score"`
	Factors        Factors        `json:"factors"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Relations      []Relation     `json:"relations,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Filter narrows a store query. Zero values mean "no constraint".
type Filter struct {
	Actor      Actor
	EventType  string
	Since      time.Time
	Until      time.Time
	Emotion    string
	TextSearch string
	Limit      int
}

// StoreStats summarizes one namespace's stored state.
type StoreStats struct {
	Namespace     string    `json:"namespace"`
	EventCount    int64     `json:"event_count"`
	Reflections   int64     `json:"reflection_count"`
	FirstEvent    time.Time `json:"first_event"`
	LastEvent     time.Time `json:"last_event"`
	MeanSalience  float64   `json:"mean_salience"`
	TopEventTypes []string  `json:"top_event_types"`
}
