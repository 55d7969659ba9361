// Package export writes scored exam events as gzip-compressed JSON lines.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
)

// Source streams raw event records.
type Source interface {
	ExportEvents(ctx context.Context, examID string, fn func(model.ExportRecord) error) error
}

// Stats summarizes a finished export.
type Stats struct {
	Events  int
	Flagged int
}

// Write exports every event of examID (all exams when empty) to w, one
// scored record per line. The gzip stream is closed before returning.
func Write(ctx context.Context, src Source, examID string, w io.Writer) (Stats, error) {
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return Stats{}, err
	}
	enc := json.NewEncoder(gz)

	var st Stats
	err = src.ExportEvents(ctx, examID, func(rec model.ExportRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec.ScoredEvent = scoring.Score(rec.Event)
		if rec.IsFlagged {
			st.Flagged++
		}
		st.Events++
		return enc.Encode(rec)
	})
	if err != nil {
		gz.Close()
		return st, fmt.Errorf("export events: %w", err)
	}
	if err := gz.Close(); err != nil {
		return st, fmt.Errorf("close gzip stream: %w", err)
	}
	slog.Info("events exported", "exam_id", examID, "events", st.Events, "flagged", st.Flagged)
	return st, nil
}
