package sheets

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/logging"
)

const (
	// defaultQueueSize bounds pending rows; overflow drops rather than blocks.
	defaultQueueSize = 64

	// appendRetries is how many times a failed append is retried before
	// the row is abandoned. The database row still exists either way.
	appendRetries = 2

	retryBackoff = 2 * time.Second
)

// AsyncLogger feeds records to an Appender from a single worker goroutine.
// It implements the engine's record logger: Append never blocks, duplicate
// AppIDs are written at most once, and overflow drops the newest row.
type AsyncLogger struct {
	appender Appender
	queue    chan *engine.ApplicationRecord
	dropped  atomic.Int64
	log      *zap.SugaredLogger
}

// NewAsyncLogger creates a logger over appender. queueSize <= 0 uses the default.
func NewAsyncLogger(appender Appender, queueSize int) *AsyncLogger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &AsyncLogger{
		appender: appender,
		queue:    make(chan *engine.ApplicationRecord, queueSize),
		log:      logging.Named("sheets"),
	}
}

// Append enqueues a record for the worker. Full queue drops the record,
// so the caller can never be blocked by spreadsheet latency.
func (l *AsyncLogger) Append(rec *engine.ApplicationRecord) {
	select {
	case l.queue <- rec:
	default:
		l.dropped.Add(1)
		l.log.Warnw("Sheet queue full, dropping record",
			"app_id", rec.AppID,
			"dropped_total", l.dropped.Load(),
		)
	}
}

// Dropped reports how many records overflowed the queue so far
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Run consumes the queue until ctx is cancelled. Rows still queued at
// cancellation are flushed with a short grace period.
func (l *AsyncLogger) Run(ctx context.Context) {
	if err := l.appender.EnsureHeader(ctx); err != nil {
		l.log.Warnw("Failed to ensure sheet header", "error", err)
	}

	// seen dedupes by AppID. Only the worker touches it, no lock needed.
	seen := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			l.drain(seen)
			return
		case rec := <-l.queue:
			l.write(ctx, seen, rec)
		}
	}
}

// drain flushes whatever is left in the queue after shutdown begins
func (l *AsyncLogger) drain(seen map[string]struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case rec := <-l.queue:
			l.write(ctx, seen, rec)
		default:
			return
		}
	}
}

func (l *AsyncLogger) write(ctx context.Context, seen map[string]struct{}, rec *engine.ApplicationRecord) {
	if _, dup := seen[rec.AppID]; dup {
		l.log.Debugw("Skipping duplicate record", "app_id", rec.AppID)
		return
	}

	var err error
	for attempt := 0; attempt <= appendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
		}
		if err = l.appender.AppendRecord(ctx, rec); err == nil {
			seen[rec.AppID] = struct{}{}
			l.log.Debugw("Appended record to sheet",
				"app_id", rec.AppID,
				"job_id", rec.JobID,
				"status", rec.Status,
			)
			return
		}
	}
	l.log.Warnw("Failed to append record to sheet",
		"app_id", rec.AppID,
		"error", err,
	)
}
