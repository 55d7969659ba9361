package scoring

import (
	"log/slog"
	"math"

	"github.com/pavelanni/proctor/internal/model"
)

// Analytics is the report served for a session.
type Analytics struct {
	SessionID               string                    `json:"session_id"`
	TotalEvents             int                       `json:"total_events"`
	FlaggedEvents           int                       `json:"flagged_events"`
	HighPriorityEvents      int                       `json:"high_priority_events"`
	AverageConfidence       float64                   `json:"average_confidence"`
	SuspiciousActivityScore float64                   `json:"suspicious_activity_score"`
	Timeline                []model.ScoredEvent       `json:"timeline"`
	Patterns                []model.SuspiciousPattern `json:"patterns"`
	Warnings                []string                  `json:"warnings"`
	Summary                 Summary                   `json:"summary"`
}

// BuildAnalytics replays a session history through the classifier and the
// pattern analyzer. A failure inside pattern analysis leaves the pattern list
// empty instead of failing the report.
func BuildAnalytics(sessionID string, events []model.Event) Analytics {
	timeline := ScoreAll(events)
	summary := Summarize(timeline)

	a := Analytics{
		SessionID:          sessionID,
		TotalEvents:        summary.TotalEvents,
		FlaggedEvents:      summary.FlaggedEvents,
		HighPriorityEvents: summary.HighPriorityEvents,
		AverageConfidence:  summary.AverageConfidence,
		Timeline:           timeline,
		Summary:            summary,
	}
	if a.TotalEvents > 0 {
		a.SuspiciousActivityScore = math.Min(1.0, float64(a.FlaggedEvents)/float64(a.TotalEvents)*2)
	}

	report := safeAnalyzePatterns(sessionID, timeline)
	a.Patterns = report.Patterns
	a.Warnings = report.Warnings
	return a
}

func safeAnalyzePatterns(sessionID string, timeline []model.ScoredEvent) (r PatternReport) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("pattern analysis failed", "session_id", sessionID, "panic", rec)
			r = PatternReport{Patterns: []model.SuspiciousPattern{}, Warnings: []string{}}
		}
	}()
	return analyzePatterns(timeline)
}

// analyzePatterns is swapped in tests to exercise the recovery path.
var analyzePatterns = AnalyzePatterns
