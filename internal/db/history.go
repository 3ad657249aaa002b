package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mini-rodalies-3d/bustracker/internal/logging"
)

// HistoryWriter batches position records off the polling path and writes
// them to a Store. Enqueue never blocks; records are dropped when the buffer
// is full.
type HistoryWriter struct {
	store      Store
	records    chan PositionRecord
	batchSize  int
	flushEvery time.Duration
	log        logging.Logger
	now        func() time.Time

	dropped atomic.Int64
	written atomic.Int64
	done    chan struct{}
}

// NewHistoryWriter creates a writer with room for buffer pending records
func NewHistoryWriter(store Store, buffer int, log logging.Logger) *HistoryWriter {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logging.Noop()
	}
	return &HistoryWriter{
		store:      store,
		records:    make(chan PositionRecord, buffer),
		batchSize:  50,
		flushEvery: time.Second,
		log:        log,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Enqueue queues rec for writing and reports whether it was accepted
func (w *HistoryWriter) Enqueue(rec PositionRecord) bool {
	select {
	case w.records <- rec:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns how many records were refused because the buffer was full
func (w *HistoryWriter) Dropped() int64 { return w.dropped.Load() }

// Written returns how many records reached the store
func (w *HistoryWriter) Written() int64 { return w.written.Load() }

// Done is closed when Run has drained and returned
func (w *HistoryWriter) Done() <-chan struct{} { return w.done }

// Run writes batches until ctx is cancelled, then drains what is queued
func (w *HistoryWriter) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	batch := make([]PositionRecord, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.RecordPositions(ctx, w.now(), batch); err != nil {
			w.log.Error(ctx, "failed to write position history",
				logging.Int("records", len(batch)), logging.Err(err))
		} else {
			w.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-w.records:
					batch = append(batch, rec)
				default:
					drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					flush(drainCtx)
					cancel()
					return
				}
			}
		case rec := <-w.records:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
