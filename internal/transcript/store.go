package transcript

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// maxPersistBatch caps how many queued records one write carries.
	maxPersistBatch = 64

	// persistTimeout bounds a single write to the store.
	persistTimeout = 10 * time.Second
)

// Store persists finalized records beyond the lifetime of a meeting.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Write appends rec to the history of meetingID.
	Write(ctx context.Context, meetingID string, rec Record) error

	// Recent returns up to n of the latest records of meetingID, oldest
	// first.
	Recent(ctx context.Context, meetingID string, n int) ([]Record, error)
}

// BatchWriter is implemented by stores that can write several records in one
// round trip. [Persist] prefers it over repeated [Store.Write] calls.
type BatchWriter interface {
	WriteBatch(ctx context.Context, meetingID string, recs []Record) error
}

// MemoryStore is an in-process [Store], used when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record)}
}

// Write implements [Store].
func (m *MemoryStore) Write(_ context.Context, meetingID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[meetingID] = append(m.records[meetingID], rec)
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(_ context.Context, meetingID string, n int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[meetingID]
	if n <= 0 {
		return []Record{}, nil
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return slices.Clone(recs), nil
}

// Persist writes every record from ch to store until ch is closed. Records
// that queued up while a write was in flight go out together. Write failures
// are logged and do not stop the loop.
func Persist(ctx context.Context, store Store, meetingID string, ch <-chan Record, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	batch := make([]Record, 0, maxPersistBatch)
	for rec := range ch {
		batch = append(batch[:0], rec)
	fill:
		for len(batch) < maxPersistBatch {
			select {
			case next, ok := <-ch:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		persistBatch(ctx, store, meetingID, batch, logger)
	}
}

func persistBatch(ctx context.Context, store Store, meetingID string, batch []Record, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if bw, ok := store.(BatchWriter); ok {
		if err := bw.WriteBatch(ctx, meetingID, batch); err != nil {
			logger.Warn("persist transcript batch", "records", len(batch), "err", err)
		}
		return
	}
	for _, rec := range batch {
		if err := store.Write(ctx, meetingID, rec); err != nil {
			logger.Warn("persist transcript record", "speaker_id", rec.SpeakerID, "err", err)
		}
	}
}
