package model

import "encoding/json"

// EventType is the tag of a telemetry event sent by the exam client.
type EventType string

const (
	EventClipboardPaste        EventType = "clipboard_paste"
	EventRapidPasteBurst       EventType = "rapid_paste_burst"
	EventKeystrokeMismatch     EventType = "keystroke_mismatch"
	EventContentSimilarity     EventType = "content_similarity"
	EventTabSwitch             EventType = "tab_switch"
	EventSuddenTextBurst       EventType = "sudden_text_burst"
	EventAudioAssistance       EventType = "audio_assistance_detected"
	EventTypingPatternAnomaly  EventType = "typing_pattern_anomaly"
	EventWPMTracking           EventType = "wpm_tracking"
	EventWritingStyleDrift     EventType = "writing_style_drift"
	EventMouseMovement         EventType = "mouse_movement"
	EventFaceCountViolation    EventType = "face_count_violation"
	EventFaceDetection         EventType = "face_detection"
	EventWindowFocus           EventType = "window_focus"
	EventKeystrokeAnomaly      EventType = "keystroke_anomaly"
	EventGazeTracking          EventType = "gaze_tracking"
	EventVideoStart            EventType = "video_start"
	EventVideoStop             EventType = "video_stop"
	EventExamStarted           EventType = "exam_started"
	EventExamSubmitted         EventType = "exam_submitted"
	EventQuestionViewed        EventType = "question_viewed"
	EventAnswerChanged         EventType = "answer_changed"
	EventConnectionEstablished EventType = "connection_established"
)

// Event is one immutable telemetry record of an exam session.
type Event struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"event_type"`
	Data      json.RawMessage `json:"event_data"`
	Timestamp int64           `json:"timestamp"` // milliseconds
}

// Priority is the coarse severity tier of an event.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// ScoredEvent is an Event with its classifier verdict attached.
type ScoredEvent struct {
	Event
	Priority        Priority `json:"priority"`
	ConfidenceScore float64  `json:"confidence_score"`
	IsFlagged       bool     `json:"is_flagged"`
	Description     string   `json:"description"`
}

// Severity ranks a suspicious pattern.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// PatternType names a higher-order behaviour inferred from several events.
type PatternType string

const (
	PatternFrequentPaste        PatternType = "frequent_paste_operations"
	PatternTabSwitchQuickTyping PatternType = "tab_switch_quick_typing"
	PatternFrequentFace         PatternType = "frequent_face_violations"
	PatternExtremeWPM           PatternType = "extreme_wpm_variation"
)

// SuspiciousPattern is derived from a full session history and never stored.
type SuspiciousPattern struct {
	Type        PatternType `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`

	Events       int     `json:"events,omitempty"`
	SpanMinutes  float64 `json:"span_minutes,omitempty"`
	TabTime      int64   `json:"tab_time,omitempty"`
	TypingEvents int     `json:"typing_events,omitempty"`
	MinWPM       float64 `json:"min_wpm,omitempty"`
	MaxWPM       float64 `json:"max_wpm,omitempty"`
	AvgWPM       float64 `json:"avg_wpm,omitempty"`
}
