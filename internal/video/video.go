// Package video stores the webcam recording streamed by exam sessions.
package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pavelanni/proctor/internal/metrics"
)

// Info describes a finished recording.
type Info struct {
	Location string `json:"master_video"`
	Chunks   int    `json:"chunks_count"`
	Bytes    int64  `json:"total_size"`
}

// Sink receives decoded recording chunks in order.
type Sink interface {
	// Start prepares a new recording.
	Start(ctx context.Context, examID, sessionID string) error
	// WriteChunk stores chunk number index of the session's recording.
	WriteChunk(ctx context.Context, examID, sessionID string, index int, data []byte) error
	// Finalize marks the recording complete and reports where it lives.
	Finalize(ctx context.Context, examID, sessionID string, chunks int, bytes int64) (Info, error)
}

// FileSink appends every chunk of an exam to a single master .webm file
// under dir/<exam_id>/.
type FileSink struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, locks: make(map[string]*sync.Mutex)}
}

// MasterPath returns the master recording path of an exam.
func (f *FileSink) MasterPath(examID string) string {
	return filepath.Join(f.dir, examID, examID+"_master_recording.webm")
}

// Start truncates the master recording of the exam.
func (f *FileSink) Start(_ context.Context, examID, _ string) error {
	if err := validID(examID); err != nil {
		return err
	}
	path := f.MasterPath(examID)
	lock := f.lock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create master recording: %w", err)
	}
	return fh.Close()
}

func (f *FileSink) WriteChunk(_ context.Context, examID, _ string, _ int, data []byte) error {
	if err := validID(examID); err != nil {
		return err
	}
	path := f.MasterPath(examID)
	lock := f.lock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open master recording: %w", err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("append chunk: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close master recording: %w", err)
	}
	metrics.VideoBytes.WithLabelValues("file").Add(float64(len(data)))
	return nil
}

func (f *FileSink) Finalize(_ context.Context, examID, _ string, chunks int, bytes int64) (Info, error) {
	if err := validID(examID); err != nil {
		return Info{}, err
	}
	return Info{Location: f.MasterPath(examID), Chunks: chunks, Bytes: bytes}, nil
}

func (f *FileSink) lock(path string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[path]
	if !ok {
		l = &sync.Mutex{}
		f.locks[path] = l
	}
	return l
}

// validID rejects ids that would escape the video directory.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("invalid exam id %q", id)
	}
	return nil
}
