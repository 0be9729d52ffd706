// Package postgres persists finalized transcript records to PostgreSQL.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Write(ctx, meetingID, rec)
//	recent, _ := store.Recent(ctx, meetingID, 20)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscriptRecords = `
CREATE TABLE IF NOT EXISTS transcript_records (
    id            BIGSERIAL    PRIMARY KEY,
    meeting_id    TEXT         NOT NULL,
    speaker_id    TEXT         NOT NULL DEFAULT '',
    speaker_name  TEXT         NOT NULL DEFAULT '',
    started_at_ms BIGINT       NOT NULL,
    duration_ms   BIGINT       NOT NULL DEFAULT 0,
    text          TEXT         NOT NULL DEFAULT '',
    source        TEXT         NOT NULL,
    message_id    TEXT         NOT NULL DEFAULT '',
    unavailable   BOOLEAN      NOT NULL DEFAULT false,
    reason        TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_records_meeting
    ON transcript_records (meeting_id, started_at_ms);
`

// Migrate creates the transcript tables if they do not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptRecords); err != nil {
		return fmt.Errorf("postgres migrate: transcript_records: %w", err)
	}
	return nil
}
