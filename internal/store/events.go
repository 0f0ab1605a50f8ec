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

const eventColumns = `seq, id, namespace, conversation_id, actor, event_type, content,
	ts, sentiment, dominant_emotion, emotions, salience, factors, embedding, created_at`

// Insert durably persists a new event and bumps term statistics in the
// same transaction. The event's Seq is assigned by the database and
// written back; Insert does not return until the commit is acknowledged.
func (s *Store) Insert(ctx context.Context, ev *memory.Event, terms []string) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	emotionsJSON, err := json.Marshal(ev.Emotions)
	if err != nil {
		return fmt.Errorf("marshal emotions: %w", err)
	}
	factorsJSON, err := json.Marshal(ev.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &memory.StorageError{Op: "insert", Err: err}
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO memory_events
			(id, namespace, conversation_id, actor, event_type, content,
			 ts, sentiment, dominant_emotion, emotions, salience, factors, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq`,
		ev.ID, ev.Namespace, ev.ConversationID, string(ev.Actor), ev.EventType, ev.Content,
		ev.Timestamp, ev.Sentiment, ev.Dominant, emotionsJSON, ev.Salience, factorsJSON,
		ev.Embedding, ev.CreatedAt,
	).Scan(&ev.Seq)
	if err != nil {
		return &memory.StorageError{Op: "insert", Err: err}
	}

	for _, term := range terms {
		if _, err := tx.Exec(ctx, `
			INSERT INTO term_stats (namespace, term, count)
			VALUES ($1, $2, 1)
			ON CONFLICT (namespace, term) DO UPDATE SET count = term_stats.count + 1`,
			ev.Namespace, term,
		); err != nil {
			return &memory.StorageError{Op: "bump terms", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &memory.StorageError{Op: "insert commit", Err: err}
	}

	s.logger.Debug("event stored",
		zap.String("namespace", ev.Namespace),
		zap.String("id", ev.ID),
		zap.Int64("seq", ev.Seq),
		zap.Float64("salience", ev.Salience))
	return nil
}

// GetByID fetches one event by id within a namespace.
func (s *Store) GetByID(ctx context.Context, namespace, id string) (*memory.Event, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM memory_events WHERE namespace = $1 AND id = $2`, namespace, id)
	ev, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, &memory.StorageError{Op: "get", Err: err}
	}
	return ev, nil
}

// GetByIDs fetches a batch of events; missing ids are silently skipped.
func (s *Store) GetByIDs(ctx context.Context, namespace string, ids []string) ([]*memory.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM memory_events WHERE namespace = $1 AND id = ANY($2)
		ORDER BY seq`, namespace, ids)
	if err != nil {
		return nil, &memory.StorageError{Op: "get batch", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Query returns events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, namespace string, f memory.Filter) ([]*memory.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM memory_events WHERE namespace = $1`
	args := []interface{}{namespace}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		q += fmt.Sprintf(" AND "+clause, len(args))
	}

	if f.Actor != "" {
		add("actor = $%d", string(f.Actor))
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if !f.Since.IsZero() {
		add("ts >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("ts < $%d", f.Until)
	}
	if f.Emotion != "" {
		add(`emotions @> $%d::jsonb`, fmt.Sprintf(`[{"label": %q}]`, f.Emotion))
	}
	if f.TextSearch != "" {
		add("to_tsvector('english', content) @@ plainto_tsquery('english', $%d)", f.TextSearch)
	}

	q += " ORDER BY seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, &memory.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Recent returns the n most recent events of a namespace, newest first.
func (s *Store) Recent(ctx context.Context, namespace string, n int) ([]*memory.Event, error) {
	if n <= 0 {
		n = 25
	}
	return s.Query(ctx, namespace, memory.Filter{Limit: n})
}

// EventsBetween returns all events with ts in [start, end), oldest first.
func (s *Store) EventsBetween(ctx context.Context, namespace string, start, end time.Time) ([]*memory.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM memory_events
		WHERE namespace = $1 AND ts >= $2 AND ts < $3
		ORDER BY seq`, namespace, start, end)
	if err != nil {
		return nil, &memory.StorageError{Op: "events between", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter pages through the log in creation order, for index rebuilds.
func (s *Store) EventsAfter(ctx context.Context, namespace string, afterSeq int64, limit int) ([]*memory.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM memory_events
		WHERE namespace = $1 AND seq > $2
		ORDER BY seq LIMIT $3`, namespace, afterSeq, limit)
	if err != nil {
		return nil, &memory.StorageError{Op: "events after", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// TermCounts returns prior occurrence counts for the given terms.
// Unseen terms are absent from the result.
func (s *Store) TermCounts(ctx context.Context, namespace string, terms []string) (map[string]int64, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT term, count FROM term_stats
		WHERE namespace = $1 AND term = ANY($2)`, namespace, terms)
	if err != nil {
		return nil, &memory.StorageError{Op: "term counts", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var term string
		var count int64
		if err := rows.Scan(&term, &count); err != nil {
			return nil, &memory.StorageError{Op: "term counts", Err: err}
		}
		counts[term] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*memory.Event, error) {
	var ev memory.Event
	var actor string
	var emotionsJSON, factorsJSON []byte

	err := row.Scan(&ev.Seq, &ev.ID, &ev.Namespace, &ev.ConversationID, &actor,
		&ev.EventType, &ev.Content, &ev.Timestamp, &ev.Sentiment, &ev.Dominant,
		&emotionsJSON, &ev.Salience, &factorsJSON, &ev.Embedding, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Actor = memory.Actor(actor)
	if len(emotionsJSON) > 0 {
		if err := json.Unmarshal(emotionsJSON, &ev.Emotions); err != nil {
			return nil, fmt.Errorf("unmarshal emotions: %w", err)
		}
	}
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &ev.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors: %w", err)
		}
	}
	return &ev, nil
}

func scanEvents(rows pgx.Rows) ([]*memory.Event, error) {
	var events []*memory.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, &memory.StorageError{Op: "scan event", Err: err}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &memory.StorageError{Op: "scan events", Err: err}
	}
	return events, nil
}
