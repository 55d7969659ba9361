package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/proctor/internal/model"
)

// Memory is an in-process Tracker. State is lost on restart.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Snapshot
}

// NewMemory creates an empty in-memory tracker.
func NewMemory(p Policy) *Memory {
	return &Memory{
		policy:   p,
		now:      time.Now,
		sessions: make(map[string]*Snapshot),
	}
}

func (m *Memory) AddEventScore(_ context.Context, sessionID string, priority model.Priority, confidence float64, flagged bool) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		s = &Snapshot{SessionID: sessionID, State: StateNoViva}
		m.sessions[sessionID] = s
	}
	s.CumulativeScore += confidence * float64(priority)
	if flagged {
		s.FlagCount++
	}
	s.LastSeen = m.now()
	return *s, nil
}

func (m *Memory) ShouldTriggerViva(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	return ok && due(m.policy, *s), nil
}

func (m *Memory) BeginViva(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || !due(m.policy, *s) {
		return false, nil
	}
	s.VivaTriggered = true
	s.VivaInProgress = true
	s.State = StatePending
	return true, nil
}

func (m *Memory) ConfirmViva(_ context.Context, sessionID string) error {
	return m.transition(sessionID, func(s *Snapshot) bool {
		if s.State != StatePending {
			return false
		}
		s.State = StateInProgress
		return true
	})
}

func (m *Memory) AbortViva(_ context.Context, sessionID string) error {
	return m.transition(sessionID, func(s *Snapshot) bool {
		if s.State != StatePending && s.State != StateInProgress {
			return false
		}
		s.State = StateNoViva
		s.VivaInProgress = false
		if m.policy.RetryFailedViva {
			s.VivaTriggered = false
		}
		return true
	})
}

func (m *Memory) CompleteViva(_ context.Context, sessionID string) error {
	return m.transition(sessionID, func(s *Snapshot) bool {
		if s.State != StateInProgress {
			return false
		}
		s.State = StateCompleted
		s.VivaInProgress = false
		return true
	})
}

func (m *Memory) transition(sessionID string, apply func(*Snapshot) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrInvalidTransition)
	}
	from := s.State
	if !apply(s) {
		return fmt.Errorf("session %s in state %s: %w", sessionID, from, ErrInvalidTransition)
	}
	slog.Debug("viva state changed", "session_id", sessionID, "from", from, "to", s.State)
	return nil
}

func (m *Memory) Snapshot(_ context.Context, sessionID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{}, false, nil
	}
	return *s, true, nil
}

func (m *Memory) Evict(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Len returns the number of tracked sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions that saw no events for longer than idle. Sessions whose
// viva was triggered are kept until Evict so they cannot trigger again.
func (m *Memory) Sweep(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	n := 0
	for id, s := range m.sessions {
		if s.VivaTriggered || s.VivaInProgress || !s.LastSeen.Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		n++
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(idle); n > 0 {
				slog.Info("evicted idle sessions", "count", n)
			}
		}
	}
}
