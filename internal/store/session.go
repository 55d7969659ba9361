package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/proctor/internal/model"
)

const sessionColumns = `id, exam_id, user_id, status, start_time, end_time, answers, score`

// StartSession opens an exam session for a student. A student holds at most
// one active session per exam.
func (s *Store) StartSession(ctx context.Context, examID string, userID int64) (model.ExamSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ExamSession{}, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM exams WHERE id = ?`, examID).Scan(&exists)
	if err != nil {
		return model.ExamSession{}, fmt.Errorf("start session on exam %s: %w", examID, notFound(err))
	}

	var active string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM exam_sessions WHERE exam_id = ? AND user_id = ? AND status = ?`,
		examID, userID, model.StatusActive,
	).Scan(&active)
	if err == nil {
		return model.ExamSession{}, ErrActiveSession
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.ExamSession{}, err
	}

	sess := model.ExamSession{
		ID:        uuid.NewString(),
		ExamID:    examID,
		UserID:    userID,
		Status:    model.StatusActive,
		StartTime: time.Now(),
		Answers:   map[string]string{},
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO exam_sessions (id, exam_id, user_id, status, start_time, answers) VALUES (?, ?, ?, ?, ?, '{}')`,
		sess.ID, sess.ExamID, sess.UserID, sess.Status, sess.StartTime,
	)
	if err != nil {
		return model.ExamSession{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, tx.Commit()
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (model.ExamSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return model.ExamSession{}, fmt.Errorf("get session %s: %w", id, notFound(err))
	}
	return sess, nil
}

// ActiveSession returns the student's active session for an exam.
func (s *Store) ActiveSession(ctx context.Context, examID string, userID int64) (model.ExamSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = ? AND user_id = ? AND status = ?`,
		examID, userID, model.StatusActive,
	)
	sess, err := scanSession(row)
	if err != nil {
		return model.ExamSession{}, fmt.Errorf("active session: %w", notFound(err))
	}
	return sess, nil
}

// SubmitSession grades the answers against the exam and completes the
// session.
func (s *Store) SubmitSession(ctx context.Context, sessionID string, answers map[string]string) (model.ExamSession, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return model.ExamSession{}, err
	}
	if sess.Status != model.StatusActive {
		return model.ExamSession{}, ErrSessionClosed
	}
	exam, err := s.GetExam(ctx, sess.ExamID)
	if err != nil {
		return model.ExamSession{}, err
	}

	if answers == nil {
		answers = map[string]string{}
	}
	encoded, err := json.Marshal(answers)
	if err != nil {
		return model.ExamSession{}, fmt.Errorf("encode answers: %w", err)
	}
	score := exam.Grade(answers)
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE exam_sessions SET status = ?, end_time = ?, answers = ?, score = ? WHERE id = ? AND status = ?`,
		model.StatusCompleted, now, string(encoded), score, sessionID, model.StatusActive,
	)
	if err != nil {
		return model.ExamSession{}, fmt.Errorf("submit session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ExamSession{}, ErrSessionClosed
	}

	sess.Status = model.StatusCompleted
	sess.EndTime = &now
	sess.Answers = answers
	sess.Score = &score
	return sess, nil
}

// TerminateSession ends an active session without grading it.
func (s *Store) TerminateSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exam_sessions SET status = ?, end_time = ? WHERE id = ? AND status = ?`,
		model.StatusTerminated, time.Now(), sessionID, model.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionClosed
	}
	return nil
}

// ListSessions returns the sessions of an exam, newest first.
func (s *Store) ListSessions(ctx context.Context, examID string) ([]model.ExamSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = ? ORDER BY start_time DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := []model.ExamSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(sc scanner) (model.ExamSession, error) {
	var sess model.ExamSession
	var answers string
	if err := sc.Scan(&sess.ID, &sess.ExamID, &sess.UserID, &sess.Status, &sess.StartTime, &sess.EndTime, &answers, &sess.Score); err != nil {
		return model.ExamSession{}, err
	}
	if err := json.Unmarshal([]byte(answers), &sess.Answers); err != nil {
		return model.ExamSession{}, fmt.Errorf("decode answers of session %s: %w", sess.ID, err)
	}
	return sess, nil
}
