package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/proctor/internal/model"
)

// AppendEvent writes an event to the session log and returns its id. Events
// are never updated once written.
func (s *Store) AppendEvent(ctx context.Context, e model.Event) (int64, error) {
	data := e.Data
	if len(data) == 0 || !json.Valid(data) {
		data = json.RawMessage(`{}`)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_events (session_id, event_type, event_data, timestamp, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Type), string(data), e.Timestamp, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

// GetEventHistory returns every event of a session ordered by timestamp,
// ties broken by insertion order.
func (s *Store) GetEventHistory(ctx context.Context, sessionID string) ([]model.Event, error) {
	events := []model.Event{}
	err := s.eachEvent(ctx,
		`SELECT id, session_id, event_type, event_data, timestamp FROM exam_events
		 WHERE session_id = ? ORDER BY timestamp, id`,
		[]any{sessionID},
		func(e model.Event) error {
			events = append(events, e)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("event history: %w", err)
	}
	return events, nil
}

// EventCounts returns the number of events per type for a session.
func (s *Store) EventCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM exam_events WHERE session_id = ? GROUP BY event_type`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (s *Store) eachEvent(ctx context.Context, query string, args []any, fn func(model.Event) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.Event
		var data string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &data, &e.Timestamp); err != nil {
			return err
		}
		e.Data = json.RawMessage(data)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
