// Package proctor handles the messages exam clients send over their live
// connection: telemetry events, video chunks and viva lifecycle signals.
package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/live"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
	"github.com/pavelanni/proctor/internal/tracker"
	"github.com/pavelanni/proctor/internal/video"
	"github.com/pavelanni/proctor/internal/viva"
)

const (
	// Tab switches longer than this get a warning notification.
	longTabSwitch = 30000 // milliseconds
	// Gaze notifications need at least this supplied confidence.
	gazeNotifyConfidence = 0.7
)

// EventLog is the append-only session event store.
type EventLog interface {
	AppendEvent(ctx context.Context, e model.Event) (int64, error)
	GetEventHistory(ctx context.Context, sessionID string) ([]model.Event, error)
}

// ExamVideos records where an exam's recording lives.
type ExamVideos interface {
	SetExamVideoPath(ctx context.Context, examID, path string) error
}

// VivaQueue accepts viva requests without waiting for them.
type VivaQueue interface {
	Submit(ctx context.Context, req viva.Request) bool
}

// Publisher delivers a message to every connection of a session.
type Publisher interface {
	PushToSession(sessionID string, msg any) error
}

// Conn is the sending side of one client connection.
type Conn interface {
	Send(msg any) bool
}

// Service implements live.Handler.
type Service struct {
	events  EventLog
	videos  ExamVideos
	tracker tracker.Tracker
	viva    VivaQueue
	pub     Publisher
	sink    video.Sink
	now     func() time.Time

	mu         sync.Mutex
	recordings map[string]*recording
}

// recording counts the chunks of one session's video.
type recording struct {
	examID string
	chunks int
	bytes  int64
}

// NewService creates the message handlers. Notifications and vivas stay off
// until Wire is called, since the hub and the orchestrator need the service
// first.
func NewService(events EventLog, videos ExamVideos, t tracker.Tracker, sink video.Sink) *Service {
	return &Service{
		events:     events,
		videos:     videos,
		tracker:    t,
		sink:       sink,
		now:        time.Now,
		recordings: make(map[string]*recording),
	}
}

// Wire sets the destination of session notifications and the viva queue.
// It must be called before the first connection is served.
func (s *Service) Wire(pub Publisher, q VivaQueue) {
	s.pub = pub
	s.viva = q
}

// peer identifies the connection a message came from.
type peer struct {
	sessionID string
	examID    string
	conn      Conn
}

func (s *Service) Connected(ctx context.Context, c *live.Client) {
	c.Send(map[string]any{
		"type":       "connection_established",
		"session_id": c.SessionID,
		"exam_id":    c.ExamID,
		"message":    i18n.T(ctx, "ConnectionEstablished"),
	})
}

func (s *Service) Handle(ctx context.Context, c *live.Client, raw []byte) {
	s.handle(ctx, peer{sessionID: c.SessionID, examID: c.ExamID, conn: c}, raw)
}

// Disconnected finalizes a recording the client did not stop.
func (s *Service) Disconnected(ctx context.Context, c *live.Client) {
	if _, err := s.finalize(ctx, c.SessionID); err != nil {
		slog.Warn("finalize video on disconnect", "session_id", c.SessionID, "error", err)
	}
}

type message struct {
	Type string `json:"type"`

	Event *clientEvent `json:"event,omitempty"`

	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Data      string          `json:"data,omitempty"`
	IsFinal   bool            `json:"is_final,omitempty"`
	Size      int64           `json:"size,omitempty"`
}

type clientEvent struct {
	Type      model.EventType `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (s *Service) handle(ctx context.Context, p peer, raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.conn.Send(errorMessage("Invalid JSON format"))
		return
	}

	switch msg.Type {
	case "exam_event":
		s.handleEvent(ctx, p, msg.Event)
	case "video_start":
		s.handleVideoStart(ctx, p)
	case "video_chunk":
		s.handleVideoChunk(ctx, p, msg)
	case "video_stop":
		s.handleVideoStop(ctx, p)
	case "viva_completed":
		s.handleVivaCompleted(ctx, p)
	case "ping":
		p.conn.Send(map[string]any{"type": "pong"})
	case "test_connection":
		p.conn.Send(map[string]any{
			"type":       "test_response",
			"message":    i18n.T(ctx, "ConnectionTest"),
			"timestamp":  s.now().Unix(),
			"session_id": p.sessionID,
		})
	default:
		p.conn.Send(errorMessage(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

func errorMessage(text string) map[string]any {
	return map[string]any{"type": "error", "message": text}
}

func (s *Service) handleEvent(ctx context.Context, p peer, ce *clientEvent) {
	if ce == nil || ce.Type == "" {
		p.conn.Send(errorMessage("exam_event requires an event with a type"))
		return
	}
	e := model.Event{
		SessionID: p.sessionID,
		Type:      ce.Type,
		Data:      ce.Data,
		Timestamp: ce.Timestamp,
	}
	if e.Timestamp == 0 {
		e.Timestamp = s.now().UnixMilli()
	}

	id, err := s.events.AppendEvent(ctx, e)
	if err != nil {
		slog.Error("append event", "session_id", p.sessionID, "event_type", e.Type, "error", err)
		p.conn.Send(errorMessage("Error processing message"))
		return
	}
	e.ID = id

	payload := scoring.DecodePayload(e.Type, e.Data)
	v := scoring.ClassifyPayload(payload)
	metrics.EventsScored.WithLabelValues(string(e.Type), v.Priority.String()).Inc()
	if v.Flagged {
		metrics.EventsFlagged.WithLabelValues(string(e.Type)).Inc()
	}

	snap, err := s.tracker.AddEventScore(ctx, p.sessionID, v.Priority, v.Confidence, v.Flagged)
	if err != nil {
		slog.Error("update suspicion score", "session_id", p.sessionID, "error", err)
	} else {
		slog.Debug("event scored",
			"session_id", p.sessionID,
			"event_type", e.Type,
			"confidence", v.Confidence,
			"flagged", v.Flagged,
			"cumulative_score", snap.CumulativeScore,
			"flag_count", snap.FlagCount,
		)
	}

	p.conn.Send(map[string]any{
		"type":             "exam_event_ack",
		"event_type":       e.Type,
		"timestamp":        e.Timestamp,
		"status":           "received",
		"priority":         v.Priority,
		"confidence_score": v.Confidence,
		"is_flagged":       v.Flagged,
		"description":      v.Description,
	})

	s.notify(ctx, p.sessionID, e.Timestamp, payload)

	if err == nil {
		s.maybeTriggerViva(ctx, p)
	}
}

// notify sends the student a notice for activity they should know is
// being monitored.
func (s *Service) notify(ctx context.Context, sessionID string, ts int64, payload scoring.Payload) {
	var key, kind string
	switch pl := payload.(type) {
	case scoring.TabSwitch:
		if pl.AwayDuration > longTabSwitch {
			key, kind = "NotifyTabSwitch", "warning"
		}
	case scoring.ClipboardPaste:
		key, kind = "NotifyClipboardPaste", "info"
	case scoring.GazeTracking:
		if pl.LookingAway && pl.Confidence != nil && *pl.Confidence > gazeNotifyConfidence {
			key, kind = "NotifyGazeAway", "info"
		}
	}
	if key == "" || s.pub == nil {
		return
	}
	err := s.pub.PushToSession(sessionID, map[string]any{
		"type": "notification",
		"notification": map[string]any{
			"id":        uuid.NewString(),
			"message":   i18n.T(ctx, key),
			"type":      kind,
			"timestamp": ts,
		},
	})
	if err != nil {
		slog.Warn("send notification", "session_id", sessionID, "error", err)
	}
}

func (s *Service) maybeTriggerViva(ctx context.Context, p peer) {
	due, err := s.tracker.ShouldTriggerViva(ctx, p.sessionID)
	if err != nil {
		slog.Error("check viva trigger", "session_id", p.sessionID, "error", err)
		return
	}
	if !due || s.viva == nil {
		return
	}
	history, err := s.events.GetEventHistory(ctx, p.sessionID)
	if err != nil {
		slog.Error("load event history for viva", "session_id", p.sessionID, "error", err)
		return
	}
	queued := s.viva.Submit(ctx, viva.Request{
		SessionID:    p.sessionID,
		ExamID:       p.examID,
		RecentEvents: scoring.ScoreAll(history),
	})
	if queued {
		slog.Info("surprise viva queued", "session_id", p.sessionID, "exam_id", p.examID)
	}
}

func (s *Service) handleVivaCompleted(ctx context.Context, p peer) {
	if err := s.tracker.CompleteViva(ctx, p.sessionID); err != nil {
		slog.Warn("complete viva", "session_id", p.sessionID, "error", err)
		p.conn.Send(map[string]any{"type": "viva_completed_ack", "status": "error", "error": err.Error()})
		return
	}
	p.conn.Send(map[string]any{"type": "viva_completed_ack", "status": "recorded"})
}
