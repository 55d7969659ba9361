package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/proctor/internal/model"
)

// CreateExam stores a new exam and returns it with its id and timestamps set.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) (model.Exam, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	for i := range e.Questions {
		if e.Questions[i].ID == "" {
			e.Questions[i].ID = uuid.NewString()
		}
		if e.Questions[i].Points <= 0 {
			e.Questions[i].Points = 1
		}
	}
	if e.Questions == nil {
		e.Questions = []model.ExamQuestion{}
	}
	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return model.Exam{}, fmt.Errorf("encode questions: %w", err)
	}
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exams (id, title, description, duration, questions, created_by, video_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Description, e.Duration, string(questions), e.CreatedBy, e.VideoPath, now, now,
	)
	if err != nil {
		return model.Exam{}, fmt.Errorf("insert exam: %w", err)
	}
	return e, nil
}

// GetExam returns an exam by id.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, duration, questions, created_by, video_path, created_at, updated_at
		 FROM exams WHERE id = ?`, id,
	)
	e, err := scanExam(row)
	if err != nil {
		return model.Exam{}, fmt.Errorf("get exam %s: %w", id, notFound(err))
	}
	return e, nil
}

// ListExams returns all exams, newest first.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, duration, questions, created_by, video_path, created_at, updated_at
		 FROM exams ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// SetExamVideoPath records where the exam's master recording lives.
func (s *Store) SetExamVideoPath(ctx context.Context, examID, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exams SET video_path = ?, updated_at = ? WHERE id = ?`, path, time.Now(), examID,
	)
	if err != nil {
		return fmt.Errorf("set video path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set video path for exam %s: %w", examID, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExam(sc scanner) (model.Exam, error) {
	var e model.Exam
	var questions string
	if err := sc.Scan(&e.ID, &e.Title, &e.Description, &e.Duration, &questions, &e.CreatedBy, &e.VideoPath, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return model.Exam{}, err
	}
	if err := json.Unmarshal([]byte(questions), &e.Questions); err != nil {
		return model.Exam{}, fmt.Errorf("decode questions of exam %s: %w", e.ID, err)
	}
	return e, nil
}
