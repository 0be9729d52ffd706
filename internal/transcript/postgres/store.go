package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/huddle/internal/transcript"
)

// Compile-time interface check.
var (
	_ transcript.Store       = (*Store)(nil)
	_ transcript.BatchWriter = (*Store)(nil)
)

// Store writes transcript records to the transcript_records table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, verifies the
// connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

const insertRecord = `
	INSERT INTO transcript_records
	    (meeting_id, speaker_id, speaker_name, started_at_ms, duration_ms,
	     text, source, message_id, unavailable, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func recordArgs(meetingID string, rec transcript.Record) []any {
	return []any{
		meetingID,
		rec.SpeakerID,
		rec.SpeakerName,
		rec.StartedAtMs,
		rec.DurationMs,
		rec.Text,
		rec.Source.String(),
		rec.MessageID,
		rec.Unavailable,
		rec.Reason,
	}
}

// Write implements [transcript.Store].
func (s *Store) Write(ctx context.Context, meetingID string, rec transcript.Record) error {
	if _, err := s.pool.Exec(ctx, insertRecord, recordArgs(meetingID, rec)...); err != nil {
		return fmt.Errorf("transcript store: write: %w", err)
	}
	return nil
}

// WriteBatch implements [transcript.BatchWriter]. All records go to the
// server in one round trip.
func (s *Store) WriteBatch(ctx context.Context, meetingID string, recs []transcript.Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertRecord, recordArgs(meetingID, rec)...)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("transcript store: write batch: %w", err)
	}
	return nil
}

// Recent implements [transcript.Store]. It returns the last n records of
// meetingID ordered chronologically (oldest first).
func (s *Store) Recent(ctx context.Context, meetingID string, n int) ([]transcript.Record, error) {
	if n <= 0 {
		return []transcript.Record{}, nil
	}
	const q = `
		SELECT speaker_id, speaker_name, started_at_ms, duration_ms,
		       text, source, message_id, unavailable, reason
		FROM   transcript_records
		WHERE  meeting_id = $1
		ORDER  BY started_at_ms DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, meetingID, n)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(recs)
	return recs, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectRecords scans pgx rows into transcript records.
func collectRecords(rows pgx.Rows) ([]transcript.Record, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Record, error) {
		var (
			r      transcript.Record
			source string
		)
		if err := row.Scan(
			&r.SpeakerID,
			&r.SpeakerName,
			&r.StartedAtMs,
			&r.DurationMs,
			&r.Text,
			&source,
			&r.MessageID,
			&r.Unavailable,
			&r.Reason,
		); err != nil {
			return transcript.Record{}, err
		}
		src, err := transcript.ParseSource(source)
		if err != nil {
			return transcript.Record{}, err
		}
		r.Source = src
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []transcript.Record{}
	}
	return recs, nil
}
