package viva

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/proctor/internal/model"
)

// Score is the graded outcome of a viva submission, out of 10.
type Score struct {
	SessionID      string  `json:"session_id"`
	Score          float64 `json:"score"`
	TotalQuestions int     `json:"total_questions"`
	Message        string  `json:"message"`
}

// ScoreVivaAnswers grades answers keyed by question id. Each question earns
// the share of expected-answer words present in the answer, scaled by the
// question confidence and 10. The result is the mean over all questions, so
// unanswered questions count as zero.
func ScoreVivaAnswers(sessionID string, questions []model.VivaQuestion, answers map[string]string) Score {
	s := Score{SessionID: sessionID, TotalQuestions: len(questions)}
	if len(questions) == 0 {
		s.Message = fmt.Sprintf("Viva completed with score %.1f/10", 0.0)
		return s
	}

	var total float64
	for _, q := range questions {
		answer := strings.ToLower(strings.TrimSpace(answers[strconv.FormatInt(q.ID, 10)]))
		expected := wordSet(strings.ToLower(q.ExpectedAnswer))
		if answer == "" || len(expected) == 0 {
			continue
		}
		common := 0
		for w := range wordSet(answer) {
			if expected[w] {
				common++
			}
		}
		total += float64(common) / float64(len(expected)) * q.Confidence * 10
	}
	s.Score = total / float64(len(questions))
	s.Message = fmt.Sprintf("Viva completed with score %.1f/10", s.Score)
	return s
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
