package alert

import (
	"context"

	"github.com/banshee-data/signal.report/internal/db"
)

// Recorder stores alerts. *db.DB satisfies it.
type Recorder interface {
	RecordAlert(ctx context.Context, a db.AlertRecord) error
}

// JournalSink records every alert in the journal.
type JournalSink struct {
	rec Recorder
}

// NewJournalSink returns a sink writing to rec.
func NewJournalSink(rec Recorder) *JournalSink {
	return &JournalSink{rec: rec}
}

// Send records e.
func (j *JournalSink) Send(ctx context.Context, e Event) error {
	return j.rec.RecordAlert(ctx, Record(e))
}

// Record converts e to its journal row.
func Record(e Event) db.AlertRecord {
	return db.AlertRecord{
		ID:           e.ID.String(),
		Kind:         string(e.Kind),
		Lane:         string(e.Lane),
		Confidence:   e.Confidence,
		VehicleCount: e.VehicleCount,
		Message:      e.Message(),
		Timestamp:    e.Timestamp,
	}
}

// LogSink writes every alert to the diagnostic log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, e Event) error {
	logf("%s", e.Message())
	return nil
}
