package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// QuestionType is the answer format of an exam question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionText           QuestionType = "text"
	QuestionCode           QuestionType = "code"
	QuestionEssay          QuestionType = "essay"
)

// QuestionOption is one choice of a multiple-choice question.
type QuestionOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// ExamQuestion is a single question inside an exam.
type ExamQuestion struct {
	ID            string           `json:"id"`
	Type          QuestionType     `json:"type"`
	Question      string           `json:"question"`
	Options       []QuestionOption `json:"options,omitempty"`
	CorrectAnswer string           `json:"correct_answer,omitempty"`
	Points        int              `json:"points"`
	TimeLimit     int              `json:"time_limit,omitempty"`
}

// Exam is an exam definition created by a teacher.
type Exam struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Duration    int            `json:"duration"` // minutes
	Questions   []ExamQuestion `json:"questions"`
	CreatedBy   int64          `json:"created_by,omitempty"`
	VideoPath   string         `json:"video_path,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SessionStatus represents the status of an exam session.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusCompleted  SessionStatus = "completed"
	StatusTerminated SessionStatus = "terminated"
)

// ExamSession represents a student's attempt at an exam.
type ExamSession struct {
	ID        string            `json:"id"`
	ExamID    string            `json:"exam_id"`
	UserID    int64             `json:"user_id"`
	Status    SessionStatus     `json:"status"`
	StartTime time.Time         `json:"start_time"`
	EndTime   *time.Time        `json:"end_time,omitempty"`
	Answers   map[string]string `json:"answers"`
	Score     *float64          `json:"score,omitempty"`
}

// VivaQuestion is a generated verification question stored for a session.
type VivaQuestion struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	Question       string    `json:"question"`
	ExpectedAnswer string    `json:"expected_answer"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// VivaSubmission holds the student's answers to a surprise viva.
type VivaSubmission struct {
	SessionID   string            `json:"session_id"`
	Answers     map[string]string `json:"answers"`
	Score       float64           `json:"score"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	BasePath      string
	SecureCookies bool
	Lang          string
}
