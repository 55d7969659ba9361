package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/proctor/internal/model"
)

// SaveVivaQuestions stores generated questions for a session in one
// transaction and returns them with ids and timestamps set.
func (s *Store) SaveVivaQuestions(ctx context.Context, sessionID string, qs []model.VivaQuestion) ([]model.VivaQuestion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	saved := make([]model.VivaQuestion, 0, len(qs))
	for _, q := range qs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO viva_questions (session_id, question_text, expected_answer, confidence_score, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionID, q.Question, q.ExpectedAnswer, q.Confidence, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert viva question: %w", err)
		}
		q.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		q.SessionID = sessionID
		q.CreatedAt = now
		saved = append(saved, q)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// GetVivaQuestions returns the viva questions issued to a session.
func (s *Store) GetVivaQuestions(ctx context.Context, sessionID string) ([]model.VivaQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, question_text, expected_answer, confidence_score, created_at
		 FROM viva_questions WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	qs := []model.VivaQuestion{}
	for rows.Next() {
		var q model.VivaQuestion
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Question, &q.ExpectedAnswer, &q.Confidence, &q.CreatedAt); err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

// SaveVivaSubmission records a graded viva submission.
func (s *Store) SaveVivaSubmission(ctx context.Context, sub model.VivaSubmission) (int64, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return 0, fmt.Errorf("encode viva answers: %w", err)
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO viva_submissions (session_id, answers, score, submitted_at) VALUES (?, ?, ?, ?)`,
		sub.SessionID, string(answers), sub.Score, sub.SubmittedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert viva submission: %w", err)
	}
	return res.LastInsertId()
}

// LatestVivaSubmission returns the most recent viva submission of a session.
func (s *Store) LatestVivaSubmission(ctx context.Context, sessionID string) (model.VivaSubmission, error) {
	var sub model.VivaSubmission
	var answers string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, answers, score, submitted_at FROM viva_submissions
		 WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID,
	).Scan(&sub.SessionID, &answers, &sub.Score, &sub.SubmittedAt)
	if err != nil {
		return model.VivaSubmission{}, fmt.Errorf("latest viva submission: %w", notFound(err))
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return model.VivaSubmission{}, fmt.Errorf("decode viva answers: %w", err)
	}
	return sub, nil
}
