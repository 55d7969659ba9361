package scoring

import (
	"math"
	"sort"

	"github.com/pavelanni/proctor/internal/model"
)

// RiskLevel is the overall verdict for a session.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
)

const mostSuspiciousLimit = 5

// SuspiciousEvent is a compact view of a highly suspicious event.
type SuspiciousEvent struct {
	Type        model.EventType `json:"type"`
	Confidence  float64         `json:"confidence"`
	Priority    model.Priority  `json:"priority"`
	Timestamp   int64           `json:"timestamp"`
	Description string          `json:"description"`
}

// Summary aggregates a scored history into counts and a risk level.
type Summary struct {
	TotalEvents          int               `json:"total_events"`
	FlaggedEvents        int               `json:"flagged_events"`
	HighPriorityEvents   int               `json:"high_priority_events"`
	MediumPriorityEvents int               `json:"medium_priority_events"`
	LowPriorityEvents    int               `json:"low_priority_events"`
	AverageConfidence    float64           `json:"average_confidence"`
	FlaggedRatio         float64           `json:"flagged_ratio"`
	RiskLevel            RiskLevel         `json:"risk_level"`
	MostSuspicious       []SuspiciousEvent `json:"most_suspicious_events"`
}

// Summarize counts events per tier and assigns a risk level.
func Summarize(events []model.ScoredEvent) Summary {
	s := Summary{RiskLevel: RiskLow, MostSuspicious: []SuspiciousEvent{}}
	if len(events) == 0 {
		return s
	}

	var confSum float64
	var suspicious []model.ScoredEvent
	for _, e := range events {
		if e.IsFlagged {
			s.FlaggedEvents++
			if e.ConfidenceScore > 0.7 {
				suspicious = append(suspicious, e)
			}
		}
		switch e.Priority {
		case model.PriorityHigh:
			s.HighPriorityEvents++
		case model.PriorityMedium:
			s.MediumPriorityEvents++
		case model.PriorityLow:
			s.LowPriorityEvents++
		}
		confSum += e.ConfidenceScore
	}

	s.TotalEvents = len(events)
	total := float64(s.TotalEvents)
	avg := confSum / total
	flaggedRatio := float64(s.FlaggedEvents) / total
	highRatio := float64(s.HighPriorityEvents) / total

	switch {
	case flaggedRatio > 0.3 || highRatio > 0.2 || avg > 0.8:
		s.RiskLevel = RiskHigh
	case flaggedRatio > 0.15 || highRatio > 0.1 || avg > 0.6:
		s.RiskLevel = RiskMedium
	}
	s.AverageConfidence = round3(avg)
	s.FlaggedRatio = round3(flaggedRatio)

	sort.SliceStable(suspicious, func(i, j int) bool {
		return suspicious[i].ConfidenceScore > suspicious[j].ConfidenceScore
	})
	if len(suspicious) > mostSuspiciousLimit {
		suspicious = suspicious[:mostSuspiciousLimit]
	}
	for _, e := range suspicious {
		s.MostSuspicious = append(s.MostSuspicious, SuspiciousEvent{
			Type:        e.Type,
			Confidence:  round3(e.ConfidenceScore),
			Priority:    e.Priority,
			Timestamp:   e.Timestamp,
			Description: e.Description,
		})
	}
	return s
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
