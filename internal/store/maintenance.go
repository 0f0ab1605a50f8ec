package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// Cleanup hard-deletes a namespace's events older than the cutoff.
// Reflections are left intact: they persist independently of the events
// that produced them. Returns the number of events removed and their ids,
// so callers can evict them from secondary indexes.
func (s *Store) Cleanup(ctx context.Context, namespace string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM memory_events
		WHERE namespace = $1 AND ts < $2
		RETURNING id`, namespace, cutoff)
	if err != nil {
		return nil, &memory.StorageError{Op: "cleanup", Err: err}
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &memory.StorageError{Op: "cleanup", Err: err}
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &memory.StorageError{Op: "cleanup", Err: err}
	}

	if len(deleted) > 0 {
		s.logger.Info("retention cleanup",
			zap.String("namespace", namespace),
			zap.Time("cutoff", cutoff),
			zap.Int("deleted", len(deleted)))
	}
	return deleted, nil
}

// Namespaces lists every namespace with at least one stored event.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT namespace FROM memory_events ORDER BY namespace`)
	if err != nil {
		return nil, &memory.StorageError{Op: "namespaces", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, &memory.StorageError{Op: "namespaces", Err: err}
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// Stats summarizes a namespace's stored state.
func (s *Store) Stats(ctx context.Context, namespace string) (*memory.StoreStats, error) {
	st := &memory.StoreStats{Namespace: namespace}

	err := s.db.QueryRow(ctx, `
		SELECT count(*),
		       coalesce(min(ts), 'epoch'::timestamptz),
		       coalesce(max(ts), 'epoch'::timestamptz),
		       coalesce(avg(salience), 0)
		FROM memory_events WHERE namespace = $1`, namespace).
		Scan(&st.EventCount, &st.FirstEvent, &st.LastEvent, &st.MeanSalience)
	if err != nil {
		return nil, &memory.StorageError{Op: "stats", Err: err}
	}

	err = s.db.QueryRow(ctx, `SELECT count(*) FROM reflections WHERE namespace = $1`, namespace).
		Scan(&st.Reflections)
	if err != nil {
		return nil, &memory.StorageError{Op: "stats", Err: err}
	}

	rows, err := s.db.Query(ctx, `
		SELECT event_type FROM memory_events
		WHERE namespace = $1 AND event_type <> ''
		GROUP BY event_type ORDER BY count(*) DESC LIMIT 5`, namespace)
	if err != nil {
		return nil, &memory.StorageError{Op: "stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var et string
		if err := rows.Scan(&et); err != nil {
			return nil, &memory.StorageError{Op: "stats", Err: err}
		}
		st.TopEventTypes = append(st.TopEventTypes, et)
	}
	return st, rows.Err()
}

// backupRecord is one line of a backup stream.
type backupRecord struct {
	Kind       string             `json:"kind"` // "event" or "reflection"
	Event      *memory.Event      `json:"event,omitempty"`
	Reflection *memory.Reflection `json:"reflection,omitempty"`
}

// Backup streams every event and reflection as JSON lines, events in
// creation order so Restore rebuilds the same sequence.
func (s *Store) Backup(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)

	namespaces, err := s.Namespaces(ctx)
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		var after int64
		for {
			batch, err := s.EventsAfter(ctx, ns, after, 500)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				if err := enc.Encode(backupRecord{Kind: "event", Event: ev}); err != nil {
					return fmt.Errorf("encode backup: %w", err)
				}
				after = ev.Seq
			}
		}
		for _, kind := range []memory.ReflectionKind{memory.ReflectionDaily, memory.ReflectionWeekly} {
			refs, err := s.Reflections(ctx, ns, kind, 10000)
			if err != nil {
				return err
			}
			for _, r := range refs {
				if err := enc.Encode(backupRecord{Kind: "reflection", Reflection: r}); err != nil {
					return fmt.Errorf("encode backup: %w", err)
				}
			}
		}
	}
	return nil
}

// Restore replays a backup stream produced by Backup. Events keep their
// original ids and timestamps but are assigned fresh sequence numbers in
// stream order.
func (s *Store) Restore(ctx context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	var restored int
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec backupRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return restored, fmt.Errorf("decode backup line: %w", err)
		}
		switch rec.Kind {
		case "event":
			if rec.Event == nil {
				continue
			}
			rec.Event.Seq = 0
			if err := s.Insert(ctx, rec.Event, nil); err != nil {
				return restored, err
			}
		case "reflection":
			if rec.Reflection == nil {
				continue
			}
			if err := s.SaveReflection(ctx, rec.Reflection); err != nil {
				return restored, err
			}
		}
		restored++
	}
	if err := sc.Err(); err != nil {
		return restored, fmt.Errorf("read backup: %w", err)
	}
	s.logger.Info("backup restored", zap.Int("records", restored))
	return restored, nil
}
