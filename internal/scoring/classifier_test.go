package scoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavelanni/proctor/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		typ      model.EventType
		data     string
		priority model.Priority
		conf     float64
		flagged  bool
	}{
		{"large paste", model.EventClipboardPaste, `{"length": 600}`, model.PriorityHigh, 0.9, true},
		{"medium paste", model.EventClipboardPaste, `{"length": 200}`, model.PriorityHigh, 0.85, true},
		{"small paste", model.EventClipboardPaste, `{"length": 10}`, model.PriorityHigh, 0.8, true},
		{"paste without data", model.EventClipboardPaste, ``, model.PriorityHigh, 0.8, true},
		{"burst defaults", model.EventRapidPasteBurst, `{}`, model.PriorityHigh, 0.95, true},
		{"burst five fast", model.EventRapidPasteBurst, `{"paste_count": 5, "time_window": 1500}`, model.PriorityHigh, 0.98, true},
		{"burst three", model.EventRapidPasteBurst, `{"paste_count": 3}`, model.PriorityHigh, 0.95, true},
		{"typing supplied confidence", model.EventTypingPatternAnomaly, `{"confidence": 0.55, "deviation_percentage": 80}`, model.PriorityMedium, 0.55, false},
		{"typing large deviation", model.EventTypingPatternAnomaly, `{"deviation_percentage": 60}`, model.PriorityMedium, 0.9, true},
		{"typing moderate deviation", model.EventTypingPatternAnomaly, `{"deviation_percentage": 40}`, model.PriorityMedium, 0.8, true},
		{"similarity override", model.EventContentSimilarity, `{"similarity_score": 0.75}`, model.PriorityHigh, 0.75, true},
		{"similarity zero keeps base", model.EventContentSimilarity, `{"similarity_score": 0}`, model.PriorityHigh, 0.85, true},
		{"style drift low similarity", model.EventWritingStyleDrift, `{"similarity_score": 0.2}`, model.PriorityMedium, 0.8, true},
		{"style drift default", model.EventWritingStyleDrift, `{}`, model.PriorityMedium, 0.1, false},
		{"fast wpm", model.EventWPMTracking, `{"wpm": 150}`, model.PriorityMedium, 0.8, true},
		{"slow wpm many chars", model.EventWPMTracking, `{"wpm": 3, "chars_typed": 400}`, model.PriorityMedium, 0.7, false},
		{"no face long", model.EventFaceCountViolation, `{"face_count": 0, "violation_duration": 40000}`, model.PriorityMedium, 0.95, true},
		{"two faces short", model.EventFaceCountViolation, `{"face_count": 2, "violation_duration": 12000}`, model.PriorityMedium, 0.9, true},
		{"face default count", model.EventFaceCountViolation, `{}`, model.PriorityMedium, 0.75, true},
		{"suspicious mouse fast", model.EventMouseMovement, `{"pattern_type": "suspicious", "velocity": 200}`, model.PriorityMedium, 0.8, true},
		{"rapid mouse", model.EventMouseMovement, `{"pattern_type": "rapid"}`, model.PriorityMedium, 0.7, false},
		{"gaze long away", model.EventGazeTracking, `{"looking_away": true, "duration_away": 12000, "confidence": 0.0}`, model.PriorityLow, 0.8, true},
		{"gaze short away", model.EventGazeTracking, `{"looking_away": true, "duration_away": 6000}`, model.PriorityLow, 0.7, false},
		{"gaze supplied confidence wins", model.EventGazeTracking, `{"looking_away": false, "confidence": 0.65}`, model.PriorityLow, 0.65, false},
		{"gaze on screen", model.EventGazeTracking, `{"looking_away": false}`, model.PriorityLow, 0.4, false},
		{"tab long", model.EventTabSwitch, `{"away_duration": 45000}`, model.PriorityHigh, 0.98, true},
		{"tab medium", model.EventTabSwitch, `{"away_duration": 15000}`, model.PriorityHigh, 0.95, true},
		{"tab short", model.EventTabSwitch, `{"away_duration": 6000}`, model.PriorityHigh, 0.92, true},
		{"tab instant", model.EventTabSwitch, `{"away_duration": 100}`, model.PriorityHigh, 0.9, true},
		{"audio supplied", model.EventAudioAssistance, `{"confidence_score": 0.5, "multiple_speakers": true, "suspicious_phrases": ["a", "b", "c", "d"]}`, model.PriorityHigh, 0.63, true},
		{"audio two phrases", model.EventAudioAssistance, `{"suspicious_phrases": ["a", "b"]}`, model.PriorityHigh, 0.84, true},
		{"video start", model.EventVideoStart, `{}`, model.PriorityLow, 0.1, false},
		{"answer changed", model.EventAnswerChanged, `{}`, model.PriorityLow, 0.2, false},
		{"window focus", model.EventWindowFocus, `{}`, model.PriorityMedium, 0.5, false},
		{"keystroke mismatch", model.EventKeystrokeMismatch, `{}`, model.PriorityHigh, 0.9, true},
		{"unknown type", model.EventType("printer_jam"), `{"x": 1}`, model.PriorityMedium, 0.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.typ, json.RawMessage(tt.data))
			assert.Equal(t, tt.priority, v.Priority)
			assert.InDelta(t, tt.conf, v.Confidence, 1e-9)
			assert.Equal(t, tt.flagged, v.Flagged)
			assert.NotEmpty(t, v.Description)
		})
	}
}

func TestClassifyUnknownDescription(t *testing.T) {
	v := Classify("printer_jam", nil)
	assert.Equal(t, "Unknown event type: printer_jam", v.Description)
}

func TestClassifyMalformedData(t *testing.T) {
	tests := []struct {
		name string
		typ  model.EventType
		data string
		conf float64
	}{
		{"not json", model.EventClipboardPaste, `{length:`, 0.8},
		{"array instead of object", model.EventTabSwitch, `[1,2,3]`, 0.9},
		{"wrong field type keeps others", model.EventFaceCountViolation, `{"face_count": "many", "violation_duration": 40000}`, 0.85},
		{"null", model.EventWPMTracking, `null`, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.typ, json.RawMessage(tt.data))
			assert.InDelta(t, tt.conf, v.Confidence, 1e-9)
		})
	}
}

func TestClassifyDeterministicAndBounded(t *testing.T) {
	inputs := map[model.EventType][]string{
		model.EventClipboardPaste:       {`{"length": 100000}`, `{"length": -5}`},
		model.EventContentSimilarity:    {`{"similarity_score": 7}`, `{"similarity_score": -3}`},
		model.EventWritingStyleDrift:    {`{"similarity_score": -4}`, `{"similarity_score": 9}`},
		model.EventTypingPatternAnomaly: {`{"confidence": 12}`},
		model.EventGazeTracking:         {`{"confidence": 3.5}`, `{"confidence": -1}`},
		model.EventAudioAssistance:      {`{"confidence_score": 2, "multiple_speakers": true}`},
	}
	for typ, datas := range inputs {
		for _, d := range datas {
			first := Classify(typ, json.RawMessage(d))
			second := Classify(typ, json.RawMessage(d))
			assert.Equal(t, first, second, "%s %s", typ, d)
			assert.GreaterOrEqual(t, first.Confidence, 0.0, "%s %s", typ, d)
			assert.LessOrEqual(t, first.Confidence, 1.0, "%s %s", typ, d)
		}
	}
}

func TestScoreAllOrdersByTimestamp(t *testing.T) {
	events := []model.Event{
		{ID: 1, Type: model.EventTabSwitch, Timestamp: 300},
		{ID: 2, Type: model.EventVideoStart, Timestamp: 100},
		{ID: 3, Type: model.EventClipboardPaste, Timestamp: 100},
	}
	scored := ScoreAll(events)
	var ids []int64
	for _, e := range scored {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{2, 3, 1}, ids)
	assert.Equal(t, model.EventTabSwitch, events[0].Type, "input must not be reordered")
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(model.EventGazeTracking))
	assert.False(t, Known("printer_jam"))
}
