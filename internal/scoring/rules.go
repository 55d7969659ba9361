package scoring

import (
	"math"

	"github.com/pavelanni/proctor/internal/model"
)

// branch is one refinement: when the predicate holds, adjust rewrites the
// running confidence.
type branch struct {
	when   func(Payload) bool
	adjust func(float64, Payload) float64
}

// step is an ordered group of branches; only the first match applies.
type step []branch

type rule struct {
	priority    model.Priority
	base        float64
	description string
	steps       []step
}

const (
	unknownPriority   = model.PriorityMedium
	unknownConfidence = 0.5
)

func on[T Payload](pred func(T) bool, adjust func(float64, T) float64) branch {
	return branch{
		when: func(p Payload) bool {
			v, ok := p.(T)
			return ok && pred(v)
		},
		adjust: func(c float64, p Payload) float64 { return adjust(c, p.(T)) },
	}
}

// bump adds delta and holds the result under ceiling.
func bump[T Payload](delta, ceiling float64) func(float64, T) float64 {
	return func(c float64, _ T) float64 { return math.Min(ceiling, c+delta) }
}

// set replaces the running confidence with a value taken from the payload.
func set[T Payload](f func(T) float64) func(float64, T) float64 {
	return func(_ float64, p T) float64 { return f(p) }
}

func always[T Payload](T) bool { return true }

var rules = map[model.EventType]rule{
	// High priority.
	model.EventClipboardPaste: {
		priority: model.PriorityHigh, base: 0.8, description: "Copy-paste activity detected",
		steps: []step{{
			on(func(p ClipboardPaste) bool { return p.Length > 500 }, bump[ClipboardPaste](0.1, 0.95)),
			on(func(p ClipboardPaste) bool { return p.Length > 100 }, bump[ClipboardPaste](0.05, 0.9)),
		}},
	},
	model.EventRapidPasteBurst: {
		priority: model.PriorityHigh, base: 0.95, description: "Multiple paste operations in short time",
		steps: []step{
			{
				on(func(p RapidPasteBurst) bool { return p.PasteCount >= 5 }, bump[RapidPasteBurst](0.03, 0.98)),
				on(func(p RapidPasteBurst) bool { return p.PasteCount >= 3 }, bump[RapidPasteBurst](0.02, 0.95)),
			},
			{
				on(func(p RapidPasteBurst) bool { return p.TimeWindow/1000 <= 2 }, bump[RapidPasteBurst](0.03, 0.98)),
			},
		},
	},
	model.EventKeystrokeMismatch: {
		priority: model.PriorityHigh, base: 0.9, description: "Text appears without corresponding keystrokes",
	},
	model.EventContentSimilarity: {
		priority: model.PriorityHigh, base: 0.85, description: "Text similarity to external sources",
		steps: []step{{
			on(func(p ContentSimilarity) bool { return p.SimilarityScore > 0 },
				set(func(p ContentSimilarity) float64 { return p.SimilarityScore })),
		}},
	},
	model.EventTabSwitch: {
		priority: model.PriorityHigh, base: 0.9, description: "User navigated away from exam",
		steps: []step{{
			on(func(p TabSwitch) bool { return p.AwayDuration/1000 > 30 }, bump[TabSwitch](0.08, 0.98)),
			on(func(p TabSwitch) bool { return p.AwayDuration/1000 > 10 }, bump[TabSwitch](0.05, 0.95)),
			on(func(p TabSwitch) bool { return p.AwayDuration/1000 > 5 }, bump[TabSwitch](0.02, 0.92)),
		}},
	},
	model.EventSuddenTextBurst: {
		priority: model.PriorityHigh, base: 0.88, description: "Large amount of text appeared suddenly",
	},
	model.EventAudioAssistance: {
		priority: model.PriorityHigh, base: 0.8, description: "Background assistance detected in audio",
		steps: []step{
			{
				on(func(p AudioAssistance) bool { return p.ConfidenceScore > 0 },
					set(func(p AudioAssistance) float64 { return p.ConfidenceScore })),
			},
			{
				on(func(p AudioAssistance) bool { return p.MultipleSpeakers }, bump[AudioAssistance](0.05, 0.98)),
			},
			{
				on(func(p AudioAssistance) bool { return len(p.SuspiciousPhrases) > 3 }, bump[AudioAssistance](0.08, 0.95)),
				on(func(p AudioAssistance) bool { return len(p.SuspiciousPhrases) > 1 }, bump[AudioAssistance](0.04, 0.92)),
			},
		},
	},

	// Medium priority.
	model.EventTypingPatternAnomaly: {
		priority: model.PriorityMedium, base: 0.7, description: "Unusual typing rhythm detected",
		steps: []step{{
			on(func(p TypingPatternAnomaly) bool { return p.Confidence > 0 },
				set(func(p TypingPatternAnomaly) float64 { return p.Confidence })),
			on(func(p TypingPatternAnomaly) bool { return p.DeviationPercentage > 50 }, bump[TypingPatternAnomaly](0.2, 0.9)),
			on(func(p TypingPatternAnomaly) bool { return p.DeviationPercentage > 30 }, bump[TypingPatternAnomaly](0.1, 0.8)),
		}},
	},
	model.EventWPMTracking: {
		priority: model.PriorityMedium, base: 0.6, description: "Significant WPM changes",
		steps: []step{{
			on(func(p WPMTracking) bool { return p.WPM > 120 }, bump[WPMTracking](0.3, 0.8)),
			on(func(p WPMTracking) bool { return p.WPM < 5 && p.CharsTyped > 100 }, bump[WPMTracking](0.2, 0.7)),
		}},
	},
	model.EventWritingStyleDrift: {
		priority: model.PriorityMedium, base: 0.65, description: "Writing style inconsistency",
		steps: []step{{
			on(always[WritingStyleDrift],
				set(func(p WritingStyleDrift) float64 { return math.Max(0.1, 1.0-p.SimilarityScore) })),
		}},
	},
	model.EventMouseMovement: {
		priority: model.PriorityMedium, base: 0.6, description: "Suspicious mouse movement patterns",
		steps: []step{
			{
				on(func(p MouseMovement) bool { return p.PatternType == "suspicious" }, bump[MouseMovement](0.2, 0.8)),
				on(func(p MouseMovement) bool { return p.PatternType == "rapid" }, bump[MouseMovement](0.1, 0.7)),
			},
			{
				on(func(p MouseMovement) bool { return p.Velocity > 100 }, bump[MouseMovement](0.1, 0.8)),
			},
		},
	},
	model.EventFaceCountViolation: {
		priority: model.PriorityMedium, base: 0.75, description: "Multiple or no faces detected",
		steps: []step{
			{
				on(func(p FaceCountViolation) bool { return p.FaceCount == 0 }, bump[FaceCountViolation](0.15, 0.9)),
				on(func(p FaceCountViolation) bool { return p.FaceCount > 1 }, bump[FaceCountViolation](0.1, 0.85)),
			},
			{
				on(func(p FaceCountViolation) bool { return p.ViolationDuration/1000 > 30 }, bump[FaceCountViolation](0.1, 0.95)),
				on(func(p FaceCountViolation) bool { return p.ViolationDuration/1000 > 10 }, bump[FaceCountViolation](0.05, 0.9)),
			},
		},
	},
	model.EventFaceDetection: {
		priority: model.PriorityMedium, base: 0.7, description: "Face detection anomalies",
	},
	model.EventWindowFocus: {
		priority: model.PriorityMedium, base: 0.5, description: "Window focus changes",
	},
	model.EventKeystrokeAnomaly: {
		priority: model.PriorityMedium, base: 0.6, description: "Unusual keystroke patterns",
	},

	// Low priority.
	model.EventGazeTracking: {
		priority: model.PriorityLow, base: 0.4, description: "Gaze direction changes",
		steps: []step{
			{
				on(func(p GazeTracking) bool { return p.LookingAway }, bump[GazeTracking](0.3, 0.7)),
			},
			{
				on(func(p GazeTracking) bool { return p.LookingAway && p.DurationAway > 10000 }, bump[GazeTracking](0.1, 0.8)),
				on(func(p GazeTracking) bool { return p.LookingAway && p.DurationAway > 5000 }, bump[GazeTracking](0.05, 0.7)),
			},
			{
				on(func(p GazeTracking) bool { return p.Confidence != nil },
					func(c float64, p GazeTracking) float64 { return math.Max(c, *p.Confidence) }),
			},
		},
	},
	model.EventVideoStart:            {priority: model.PriorityLow, base: 0.1, description: "Video recording started"},
	model.EventVideoStop:             {priority: model.PriorityLow, base: 0.1, description: "Video recording stopped"},
	model.EventExamStarted:           {priority: model.PriorityLow, base: 0.1, description: "Exam session began"},
	model.EventExamSubmitted:         {priority: model.PriorityLow, base: 0.1, description: "Exam was submitted"},
	model.EventQuestionViewed:        {priority: model.PriorityLow, base: 0.1, description: "Question navigation"},
	model.EventAnswerChanged:         {priority: model.PriorityLow, base: 0.2, description: "Answer modification"},
	model.EventConnectionEstablished: {priority: model.PriorityLow, base: 0.1, description: "WebSocket connection"},
}

// evaluate runs every step of r over p and clamps the result to [0,1].
func (r rule) evaluate(p Payload) float64 {
	c := r.base
	for _, s := range r.steps {
		for _, b := range s {
			if b.when(p) {
				c = b.adjust(c, p)
				break
			}
		}
	}
	return math.Max(0, math.Min(1, c))
}

// flagged applies the per-tier suspicion threshold.
func flagged(priority model.Priority, confidence float64, p Payload) bool {
	switch priority {
	case model.PriorityHigh:
		return confidence > 0.6
	case model.PriorityMedium:
		return confidence > 0.7
	case model.PriorityLow:
		g, ok := p.(GazeTracking)
		return ok && g.LookingAway && g.DurationAway > 10000 && confidence > 0.6
	}
	return false
}
