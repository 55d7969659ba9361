package model

// ExportRecord is one line of a scored event export.
type ExportRecord struct {
	ExamID string `json:"exam_id"`
	UserID int64  `json:"user_id"`
	ScoredEvent
}
