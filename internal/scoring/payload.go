package scoring

import (
	"encoding/json"
	"errors"

	"github.com/pavelanni/proctor/internal/model"
)

// Payload is the typed body of a telemetry event. Each event type with
// refinement rules has its own variant; everything else decodes to Generic.
type Payload interface {
	EventType() model.EventType
}

type ClipboardPaste struct {
	Length float64 `json:"length"`
}

type RapidPasteBurst struct {
	PasteCount float64 `json:"paste_count"`
	TimeWindow float64 `json:"time_window"` // milliseconds
}

type TypingPatternAnomaly struct {
	Confidence          float64 `json:"confidence"`
	DeviationPercentage float64 `json:"deviation_percentage"`
}

type ContentSimilarity struct {
	SimilarityScore float64 `json:"similarity_score"`
}

type WritingStyleDrift struct {
	SimilarityScore float64 `json:"similarity_score"`
}

type WPMTracking struct {
	WPM        float64 `json:"wpm"`
	CharsTyped float64 `json:"chars_typed"`
}

type FaceCountViolation struct {
	FaceCount         float64 `json:"face_count"`
	ViolationDuration float64 `json:"violation_duration"` // milliseconds
}

type MouseMovement struct {
	PatternType string  `json:"pattern_type"`
	Velocity    float64 `json:"velocity"`
}

type GazeTracking struct {
	LookingAway  bool    `json:"looking_away"`
	DurationAway float64 `json:"duration_away"` // milliseconds
	// Confidence is nil when the client did not report one.
	Confidence *float64 `json:"confidence"`
	GazeX      float64  `json:"gaze_x"`
	GazeY      float64  `json:"gaze_y"`
}

type TabSwitch struct {
	AwayDuration float64 `json:"away_duration"` // milliseconds
}

type AudioAssistance struct {
	ConfidenceScore   float64  `json:"confidence_score"`
	MultipleSpeakers  bool     `json:"multiple_speakers"`
	SuspiciousPhrases []string `json:"suspicious_phrases"`
}

// Generic carries event types that are scored from the base table only.
type Generic struct {
	Type model.EventType
}

func (ClipboardPaste) EventType() model.EventType       { return model.EventClipboardPaste }
func (RapidPasteBurst) EventType() model.EventType      { return model.EventRapidPasteBurst }
func (TypingPatternAnomaly) EventType() model.EventType { return model.EventTypingPatternAnomaly }
func (ContentSimilarity) EventType() model.EventType    { return model.EventContentSimilarity }
func (WritingStyleDrift) EventType() model.EventType    { return model.EventWritingStyleDrift }
func (WPMTracking) EventType() model.EventType          { return model.EventWPMTracking }
func (FaceCountViolation) EventType() model.EventType   { return model.EventFaceCountViolation }
func (MouseMovement) EventType() model.EventType        { return model.EventMouseMovement }
func (GazeTracking) EventType() model.EventType         { return model.EventGazeTracking }
func (TabSwitch) EventType() model.EventType            { return model.EventTabSwitch }
func (AudioAssistance) EventType() model.EventType      { return model.EventAudioAssistance }
func (g Generic) EventType() model.EventType            { return g.Type }

// DecodePayload turns raw event data into its typed variant. Missing fields
// keep their defaults. A field of the wrong JSON type is skipped and the rest
// of the object is still used; unparseable data yields the defaults.
func DecodePayload(t model.EventType, data json.RawMessage) Payload {
	switch t {
	case model.EventClipboardPaste:
		return decodeInto(data, ClipboardPaste{})
	case model.EventRapidPasteBurst:
		return decodeInto(data, RapidPasteBurst{PasteCount: 1, TimeWindow: 5000})
	case model.EventTypingPatternAnomaly:
		return decodeInto(data, TypingPatternAnomaly{})
	case model.EventContentSimilarity:
		return decodeInto(data, ContentSimilarity{})
	case model.EventWritingStyleDrift:
		return decodeInto(data, WritingStyleDrift{SimilarityScore: 1.0})
	case model.EventWPMTracking:
		return decodeInto(data, WPMTracking{})
	case model.EventFaceCountViolation:
		return decodeInto(data, FaceCountViolation{FaceCount: 1})
	case model.EventMouseMovement:
		return decodeInto(data, MouseMovement{PatternType: "normal"})
	case model.EventGazeTracking:
		return decodeInto(data, GazeTracking{})
	case model.EventTabSwitch:
		return decodeInto(data, TabSwitch{})
	case model.EventAudioAssistance:
		return decodeInto(data, AudioAssistance{})
	}
	return Generic{Type: t}
}

func decodeInto[T Payload](data json.RawMessage, defaults T) Payload {
	if len(data) == 0 {
		return defaults
	}
	v := defaults
	if err := json.Unmarshal(data, &v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return v
		}
		return defaults
	}
	return v
}
