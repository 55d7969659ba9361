package proctor

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/pavelanni/proctor/internal/video"
)

func (s *Service) handleVideoStart(ctx context.Context, p peer) {
	if err := s.sink.Start(ctx, p.examID, p.sessionID); err != nil {
		slog.Error("start video recording", "session_id", p.sessionID, "exam_id", p.examID, "error", err)
		p.conn.Send(map[string]any{"type": "video_start_ack", "status": "error", "error": err.Error()})
		return
	}
	s.mu.Lock()
	s.recordings[p.sessionID] = &recording{examID: p.examID}
	s.mu.Unlock()

	slog.Info("video recording started", "session_id", p.sessionID, "exam_id", p.examID)
	p.conn.Send(map[string]any{"type": "video_start_ack", "status": "ready", "format": "webm"})
}

func (s *Service) handleVideoChunk(ctx context.Context, p peer, msg message) {
	if msg.Data == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		p.conn.Send(chunkError(msg, err))
		return
	}

	s.mu.Lock()
	rec, ok := s.recordings[p.sessionID]
	if !ok {
		rec = &recording{examID: p.examID}
		s.recordings[p.sessionID] = rec
	}
	index := rec.chunks
	s.mu.Unlock()

	if err := s.sink.WriteChunk(ctx, p.examID, p.sessionID, index, data); err != nil {
		slog.Error("save video chunk", "session_id", p.sessionID, "chunk_index", index, "error", err)
		p.conn.Send(chunkError(msg, err))
		return
	}

	s.mu.Lock()
	rec.chunks++
	rec.bytes += int64(len(data))
	s.mu.Unlock()

	p.conn.Send(map[string]any{
		"type":         "video_chunk_ack",
		"timestamp":    msg.Timestamp,
		"status":       "saved",
		"chunk_index":  index,
		"decoded_size": len(data),
	})

	if !msg.IsFinal {
		return
	}
	info, err := s.finalize(ctx, p.sessionID)
	if err != nil {
		slog.Error("finalize video", "session_id", p.sessionID, "error", err)
		return
	}
	p.conn.Send(map[string]any{
		"type":         "video_finalized",
		"master_video": info.Location,
		"chunks_count": info.Chunks,
		"total_size":   info.Bytes,
	})
}

func chunkError(msg message, err error) map[string]any {
	return map[string]any{"type": "video_chunk_error", "timestamp": msg.Timestamp, "error": err.Error()}
}

func (s *Service) handleVideoStop(ctx context.Context, p peer) {
	if _, err := s.finalize(ctx, p.sessionID); err != nil {
		slog.Error("stop video recording", "session_id", p.sessionID, "error", err)
		p.conn.Send(map[string]any{"type": "video_stop_ack", "status": "error", "error": err.Error()})
		return
	}
	p.conn.Send(map[string]any{"type": "video_stop_ack", "status": "finalized"})
}

// finalize closes the session's recording, if any, and records its
// location on the exam. A session without a recording is a no-op.
func (s *Service) finalize(ctx context.Context, sessionID string) (video.Info, error) {
	s.mu.Lock()
	rec, ok := s.recordings[sessionID]
	delete(s.recordings, sessionID)
	s.mu.Unlock()
	if !ok || rec.chunks == 0 {
		return video.Info{}, nil
	}

	info, err := s.sink.Finalize(ctx, rec.examID, sessionID, rec.chunks, rec.bytes)
	if err != nil {
		return video.Info{}, err
	}
	if err := s.videos.SetExamVideoPath(ctx, rec.examID, info.Location); err != nil {
		return info, err
	}
	slog.Info("video recording finalized",
		"session_id", sessionID,
		"exam_id", rec.examID,
		"location", info.Location,
		"chunks", info.Chunks,
		"bytes", info.Bytes,
	)
	return info, nil
}
