package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// SaveReflection persists a reflection, atomically replacing any prior
// version of the same window. Regeneration discards the old artifact.
func (s *Store) SaveReflection(ctx context.Context, r *memory.Reflection) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	keyEvents, err := json.Marshal(r.KeyEvents)
	if err != nil {
		return fmt.Errorf("marshal key events: %w", err)
	}
	themes, err := json.Marshal(r.Themes)
	if err != nil {
		return fmt.Errorf("marshal themes: %w", err)
	}
	learning, err := json.Marshal(r.LearningMoments)
	if err != nil {
		return fmt.Errorf("marshal learning moments: %w", err)
	}
	tone, err := json.Marshal(r.Tone)
	if err != nil {
		return fmt.Errorf("marshal tone: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO reflections
			(id, namespace, kind, period_start, period_end,
			 key_events, themes, learning_moments, tone, trend, empty_window, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (namespace, kind, period_start) DO UPDATE SET
			id = EXCLUDED.id,
			period_end = EXCLUDED.period_end,
			key_events = EXCLUDED.key_events,
			themes = EXCLUDED.themes,
			learning_moments = EXCLUDED.learning_moments,
			tone = EXCLUDED.tone,
			trend = EXCLUDED.trend,
			empty_window = EXCLUDED.empty_window,
			created_at = EXCLUDED.created_at`,
		r.ID, r.Namespace, string(r.Kind), r.PeriodStart, r.PeriodEnd,
		keyEvents, themes, learning, tone, string(r.Trend), r.Empty, r.CreatedAt,
	)
	if err != nil {
		return &memory.StorageError{Op: "save reflection", Err: err}
	}

	s.logger.Info("reflection saved",
		zap.String("namespace", r.Namespace),
		zap.String("kind", string(r.Kind)),
		zap.Time("period_start", r.PeriodStart),
		zap.Int("key_events", len(r.KeyEvents)))
	return nil
}

// Reflection fetches the reflection for one window, or ErrNotFound.
func (s *Store) Reflection(ctx context.Context, namespace string, kind memory.ReflectionKind, periodStart time.Time) (*memory.Reflection, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, namespace, kind, period_start, period_end,
		       key_events, themes, learning_moments, tone, trend, empty_window, created_at
		FROM reflections
		WHERE namespace = $1 AND kind = $2 AND period_start = $3`,
		namespace, string(kind), periodStart)
	r, err := scanReflection(row)
	if err == pgx.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, &memory.StorageError{Op: "get reflection", Err: err}
	}
	return r, nil
}

// Reflections lists a namespace's reflections of one kind, newest first.
func (s *Store) Reflections(ctx context.Context, namespace string, kind memory.ReflectionKind, limit int) ([]*memory.Reflection, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, namespace, kind, period_start, period_end,
		       key_events, themes, learning_moments, tone, trend, empty_window, created_at
		FROM reflections
		WHERE namespace = $1 AND kind = $2
		ORDER BY period_start DESC LIMIT $3`,
		namespace, string(kind), limit)
	if err != nil {
		return nil, &memory.StorageError{Op: "list reflections", Err: err}
	}
	defer rows.Close()

	var out []*memory.Reflection
	for rows.Next() {
		r, err := scanReflection(rows)
		if err != nil {
			return nil, &memory.StorageError{Op: "scan reflection", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReflection(row rowScanner) (*memory.Reflection, error) {
	var r memory.Reflection
	var kind, trend string
	var keyEvents, themes, learning, tone []byte

	err := row.Scan(&r.ID, &r.Namespace, &kind, &r.PeriodStart, &r.PeriodEnd,
		&keyEvents, &themes, &learning, &tone, &trend, &r.Empty, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Kind = memory.ReflectionKind(kind)
	r.Trend = memory.Trend(trend)
	if err := json.Unmarshal(keyEvents, &r.KeyEvents); err != nil {
		return nil, fmt.Errorf("unmarshal key events: %w", err)
	}
	if err := json.Unmarshal(themes, &r.Themes); err != nil {
		return nil, fmt.Errorf("unmarshal themes: %w", err)
	}
	if err := json.Unmarshal(learning, &r.LearningMoments); err != nil {
		return nil, fmt.Errorf("unmarshal learning moments: %w", err)
	}
	if err := json.Unmarshal(tone, &r.Tone); err != nil {
		return nil, fmt.Errorf("unmarshal tone: %w", err)
	}
	return &r, nil
}
