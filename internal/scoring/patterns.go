package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/pavelanni/proctor/internal/model"
)

const (
	pasteWindowMs      = 10 * 60 * 1000
	pasteMinEvents     = 3
	tabTypingWindowMs  = 30 * 1000
	faceViolationLimit = 5
	wpmMinSamples      = 5
	wpmMaxSpread       = 60
	wpmCeiling         = 120
)

// PatternReport is the pattern analyzer output.
type PatternReport struct {
	Patterns     []model.SuspiciousPattern `json:"patterns"`
	Warnings     []string                  `json:"warnings"`
	PatternCount int                       `json:"pattern_count"`
	WarningCount int                       `json:"warning_count"`
}

// AnalyzePatterns looks for multi-event behaviours in a session history. The
// input is not modified; a timestamp-ordered copy is analysed.
func AnalyzePatterns(events []model.ScoredEvent) PatternReport {
	r := PatternReport{Patterns: []model.SuspiciousPattern{}, Warnings: []string{}}
	if len(events) == 0 {
		return r
	}

	sorted := make([]model.ScoredEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var pastes, tabs, typing, faces, wpm []model.ScoredEvent
	for _, e := range sorted {
		switch e.Type {
		case model.EventClipboardPaste, model.EventRapidPasteBurst:
			pastes = append(pastes, e)
		case model.EventTabSwitch:
			tabs = append(tabs, e)
		case model.EventFaceCountViolation:
			faces = append(faces, e)
		case model.EventTypingPatternAnomaly:
			typing = append(typing, e)
		case model.EventWPMTracking:
			typing = append(typing, e)
			wpm = append(wpm, e)
		}
	}

	r.add(frequentPaste(pastes))
	for _, p := range tabSwitchTyping(tabs, typing) {
		r.add(&p, "Suspicious typing pattern after navigating away")
	}
	r.add(frequentFaceViolations(faces))
	r.add(extremeWPM(wpm))

	r.PatternCount = len(r.Patterns)
	r.WarningCount = len(r.Warnings)
	return r
}

func (r *PatternReport) add(p *model.SuspiciousPattern, warning string) {
	if p == nil {
		return
	}
	r.Patterns = append(r.Patterns, *p)
	r.Warnings = append(r.Warnings, warning)
}

// frequentPaste finds the densest 10-minute window of paste events.
func frequentPaste(pastes []model.ScoredEvent) (*model.SuspiciousPattern, string) {
	if len(pastes) < pasteMinEvents {
		return nil, ""
	}
	best, bestSpan := 0, int64(0)
	lo := 0
	for hi := range pastes {
		for pastes[hi].Timestamp-pastes[lo].Timestamp >= pasteWindowMs {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best = n
			bestSpan = pastes[hi].Timestamp - pastes[lo].Timestamp
		}
	}
	if best < pasteMinEvents {
		return nil, ""
	}
	span := math.Round(float64(bestSpan)/60000*10) / 10
	return &model.SuspiciousPattern{
		Type:        model.PatternFrequentPaste,
		Severity:    model.SeverityHigh,
		Description: fmt.Sprintf("%d paste operations within %.1f minutes", best, span),
		Events:      best,
		SpanMinutes: span,
	}, "Multiple paste operations detected in short time period"
}

// tabSwitchTyping reports typing activity within 30 seconds after each tab
// switch. Both slices must be ordered by timestamp.
func tabSwitchTyping(tabs, typing []model.ScoredEvent) []model.SuspiciousPattern {
	var out []model.SuspiciousPattern
	lo := 0
	for _, tab := range tabs {
		for lo < len(typing) && typing[lo].Timestamp <= tab.Timestamp {
			lo++
		}
		n := 0
		for i := lo; i < len(typing) && typing[i].Timestamp-tab.Timestamp < tabTypingWindowMs; i++ {
			n++
		}
		if n == 0 {
			continue
		}
		out = append(out, model.SuspiciousPattern{
			Type:         model.PatternTabSwitchQuickTyping,
			Severity:     model.SeverityHigh,
			Description:  "Fast typing detected after tab switch",
			TabTime:      tab.Timestamp,
			TypingEvents: n,
		})
	}
	return out
}

func frequentFaceViolations(faces []model.ScoredEvent) (*model.SuspiciousPattern, string) {
	if len(faces) <= faceViolationLimit {
		return nil, ""
	}
	return &model.SuspiciousPattern{
		Type:        model.PatternFrequentFace,
		Severity:    model.SeverityMedium,
		Description: fmt.Sprintf("%d face detection violations", len(faces)),
		Events:      len(faces),
	}, "Frequent face detection issues may indicate attempt to avoid monitoring"
}

func extremeWPM(samples []model.ScoredEvent) (*model.SuspiciousPattern, string) {
	if len(samples) < wpmMinSamples {
		return nil, ""
	}
	lowest, highest, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, e := range samples {
		w := wpmOf(e)
		lowest = math.Min(lowest, w)
		highest = math.Max(highest, w)
		sum += w
	}
	if highest-lowest <= wpmMaxSpread && highest <= wpmCeiling {
		return nil, ""
	}
	avg := sum / float64(len(samples))
	return &model.SuspiciousPattern{
		Type:        model.PatternExtremeWPM,
		Severity:    model.SeverityMedium,
		Description: fmt.Sprintf("WPM varies from %g to %g (avg: %.1f)", lowest, highest, avg),
		MinWPM:      lowest,
		MaxWPM:      highest,
		AvgWPM:      math.Round(avg*10) / 10,
	}, "Extreme typing speed variations detected"
}

func wpmOf(e model.ScoredEvent) float64 {
	if p, ok := DecodePayload(e.Type, e.Data).(WPMTracking); ok {
		return p.WPM
	}
	return 0
}
