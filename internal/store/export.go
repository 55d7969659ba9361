package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/proctor/internal/model"
)

// ExportEvents streams every logged event in session and timestamp order.
// An empty examID exports all exams. Records carry the raw event only;
// scoring is left to the caller. fn must not call back into the store.
func (s *Store) ExportEvents(ctx context.Context, examID string, fn func(model.ExportRecord) error) error {
	query := `SELECT s.exam_id, s.user_id, e.id, e.session_id, e.event_type, e.event_data, e.timestamp
		FROM exam_events e JOIN exam_sessions s ON s.id = e.session_id`
	var args []any
	if examID != "" {
		query += ` WHERE s.exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY s.start_time, e.session_id, e.timestamp, e.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("export events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec model.ExportRecord
		var data string
		if err := rows.Scan(&rec.ExamID, &rec.UserID, &rec.ID, &rec.SessionID, &rec.Type, &data, &rec.Timestamp); err != nil {
			return err
		}
		rec.Data = json.RawMessage(data)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
