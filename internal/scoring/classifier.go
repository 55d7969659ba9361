// Package scoring classifies exam telemetry events and derives session-level
// analytics from a scored event history.
package scoring

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pavelanni/proctor/internal/model"
)

// Verdict is the classifier output for a single event.
type Verdict struct {
	Priority    model.Priority `json:"priority"`
	Confidence  float64        `json:"confidence_score"`
	Flagged     bool           `json:"is_flagged"`
	Description string         `json:"description"`
}

// Classify scores an event from its type and raw data. It is a pure function
// and never fails: unknown types and malformed data get default treatment.
func Classify(t model.EventType, data json.RawMessage) Verdict {
	return ClassifyPayload(DecodePayload(t, data))
}

// ClassifyPayload scores an already decoded payload.
func ClassifyPayload(p Payload) Verdict {
	r, ok := rules[p.EventType()]
	if !ok {
		return Verdict{
			Priority:    unknownPriority,
			Confidence:  unknownConfidence,
			Flagged:     flagged(unknownPriority, unknownConfidence, p),
			Description: fmt.Sprintf("Unknown event type: %s", p.EventType()),
		}
	}
	c := r.evaluate(p)
	return Verdict{
		Priority:    r.priority,
		Confidence:  c,
		Flagged:     flagged(r.priority, c, p),
		Description: r.description,
	}
}

// Known reports whether t has an entry in the rule table.
func Known(t model.EventType) bool {
	_, ok := rules[t]
	return ok
}

// Score attaches the classifier verdict to an event.
func Score(e model.Event) model.ScoredEvent {
	v := Classify(e.Type, e.Data)
	return model.ScoredEvent{
		Event:           e,
		Priority:        v.Priority,
		ConfidenceScore: v.Confidence,
		IsFlagged:       v.Flagged,
		Description:     v.Description,
	}
}

// ScoreAll scores a history and returns it ordered by timestamp. Events with
// equal timestamps keep their input order.
func ScoreAll(events []model.Event) []model.ScoredEvent {
	scored := make([]model.ScoredEvent, len(events))
	for i, e := range events {
		scored[i] = Score(e)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Timestamp < scored[j].Timestamp
	})
	return scored
}
