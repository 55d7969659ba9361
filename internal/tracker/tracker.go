// Package tracker keeps the running suspicion state of live exam sessions and
// decides when a surprise viva should be issued.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/pavelanni/proctor/internal/model"
)

// State is the viva lifecycle of a session.
type State string

const (
	StateNoViva     State = "no_viva"
	StatePending    State = "triggered_pending"
	StateInProgress State = "viva_in_progress"
	StateCompleted  State = "viva_completed"
)

// ErrInvalidTransition is returned when a viva transition does not apply to
// the session's current state.
var ErrInvalidTransition = errors.New("invalid viva transition")

// Snapshot is a copy of one session's suspicion state.
type Snapshot struct {
	SessionID       string    `json:"session_id"`
	CumulativeScore float64   `json:"cumulative_score"`
	FlagCount       int       `json:"flag_count"`
	VivaTriggered   bool      `json:"viva_triggered"`
	VivaInProgress  bool      `json:"viva_in_progress"`
	State           State     `json:"state"`
	LastSeen        time.Time `json:"last_seen"`
}

// Thresholds decide when a viva is due. Either one suffices.
type Thresholds struct {
	Score float64
	Flags int
}

// Policy configures a tracker.
type Policy struct {
	Thresholds Thresholds
	// RetryFailedViva lets a session trigger again after a failed
	// generation attempt. When false a session gets one attempt only.
	RetryFailedViva bool
}

// DefaultPolicy returns a score threshold of 3.0, a flag threshold of 3 and
// a single viva attempt per session.
func DefaultPolicy() Policy {
	return Policy{Thresholds: Thresholds{Score: 3.0, Flags: 3}}
}

// Tracker is a keyed store of session suspicion state. Every method is
// atomic with respect to other calls for the same session.
type Tracker interface {
	// AddEventScore adds confidence*priority to the session score and bumps
	// the flag count when flagged is true. State is created on first use.
	AddEventScore(ctx context.Context, sessionID string, priority model.Priority, confidence float64, flagged bool) (Snapshot, error)
	// ShouldTriggerViva reports whether a viva is due and none has been
	// triggered yet.
	ShouldTriggerViva(ctx context.Context, sessionID string) (bool, error)
	// BeginViva claims the viva for the caller. It returns false when the
	// viva is not due or another caller already claimed it.
	BeginViva(ctx context.Context, sessionID string) (bool, error)
	// ConfirmViva marks a claimed viva as delivered.
	ConfirmViva(ctx context.Context, sessionID string) error
	// AbortViva releases a claim after a failed attempt.
	AbortViva(ctx context.Context, sessionID string) error
	// CompleteViva records that the student finished the viva.
	CompleteViva(ctx context.Context, sessionID string) error
	// Snapshot returns the session state and whether it exists.
	Snapshot(ctx context.Context, sessionID string) (Snapshot, bool, error)
	// Evict drops the session state when the session ends.
	Evict(ctx context.Context, sessionID string) error
}

func due(p Policy, s Snapshot) bool {
	if s.VivaTriggered || s.VivaInProgress {
		return false
	}
	return s.CumulativeScore >= p.Thresholds.Score || s.FlagCount >= p.Thresholds.Flags
}
