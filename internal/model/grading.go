package model

import (
	"math"
	"strings"
)

// Weight returns the question's points, defaulting to 1.
func (q ExamQuestion) Weight() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Grade returns the percentage of points earned, rounded to two decimals.
// Multiple choice answers earn full points on an exact match. Other question
// types earn half points for any non-blank answer.
func (e Exam) Grade(answers map[string]string) float64 {
	var total, earned float64
	for _, q := range e.Questions {
		w := float64(q.Weight())
		total += w
		answer := answers[q.ID]
		if q.Type == QuestionMultipleChoice {
			if answer == q.CorrectAnswer {
				earned += w
			}
			continue
		}
		if strings.TrimSpace(answer) != "" {
			earned += w * 0.5
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(earned/total*100*100) / 100
}

// WithoutAnswers returns a copy of the exam that is safe to show a student.
func (e Exam) WithoutAnswers() Exam {
	qs := make([]ExamQuestion, len(e.Questions))
	for i, q := range e.Questions {
		q.CorrectAnswer = ""
		if len(q.Options) > 0 {
			opts := make([]QuestionOption, len(q.Options))
			for j, o := range q.Options {
				o.IsCorrect = false
				opts[j] = o
			}
			q.Options = opts
		}
		qs[i] = q
	}
	e.Questions = qs
	e.VideoPath = ""
	return e
}
