package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// JournalSink appends events to the ledger_events table as an audit trail.
type JournalSink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewJournalSink(db *sqlx.DB, logger *zap.Logger) *JournalSink {
	return &JournalSink{db: db, logger: logger}
}

// EnsureSchema creates the journal table if it does not exist.
func (s *JournalSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_events (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *JournalSink) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal event", zap.String("kind", event.Kind()), zap.Error(err))
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO ledger_events (kind, payload, recorded_at) VALUES ($1, $2, $3)`,
		event.Kind(), payload, time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("append event journal", zap.String("kind", event.Kind()), zap.Error(err))
	}
}
