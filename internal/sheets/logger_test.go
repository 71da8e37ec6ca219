package sheets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-engine/internal/engine"
)

// captureAppender records appended rows in memory
type captureAppender struct {
	mu      sync.Mutex
	rows    []*engine.ApplicationRecord
	headers int
	block   chan struct{} // non-nil makes AppendRecord wait until closed
}

func (c *captureAppender) AppendRecord(ctx context.Context, rec *engine.ApplicationRecord) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rec)
	return nil
}

func (c *captureAppender) EnsureHeader(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers++
	return nil
}

func (c *captureAppender) appended() []*engine.ApplicationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*engine.ApplicationRecord, len(c.rows))
	copy(out, c.rows)
	return out
}

func waitForRows(t *testing.T, c *captureAppender, want int) []*engine.ApplicationRecord {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		rows := c.appended()
		if len(rows) >= want {
			return rows
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d rows, have %d", want, len(rows))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func rec(appID, jobID string) *engine.ApplicationRecord {
	return &engine.ApplicationRecord{
		AppID:     appID,
		JobID:     jobID,
		Platform:  "linkedin",
		Status:    engine.RecordStatusApplied,
		AppliedAt: time.Now(),
	}
}

func TestAsyncLoggerAppends(t *testing.T) {
	capture := &captureAppender{}
	logger := NewAsyncLogger(capture, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		logger.Run(ctx)
		close(done)
	}()

	logger.Append(rec("app-1", "job-1"))
	logger.Append(rec("app-2", "job-2"))

	rows := waitForRows(t, capture, 2)
	assert.Equal(t, "app-1", rows[0].AppID)
	assert.Equal(t, "app-2", rows[1].AppID)
	assert.Equal(t, 1, capture.headers, "header should be ensured once")

	cancel()
	<-done
}

func TestAsyncLoggerDedupesByAppID(t *testing.T) {
	capture := &captureAppender{}
	logger := NewAsyncLogger(capture, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		logger.Run(ctx)
		close(done)
	}()

	same := rec("app-dup", "job-1")
	logger.Append(same)
	logger.Append(same)
	logger.Append(rec("app-other", "job-2"))

	rows := waitForRows(t, capture, 2)
	assert.Len(t, rows, 2)
	assert.Equal(t, "app-dup", rows[0].AppID)
	assert.Equal(t, "app-other", rows[1].AppID)

	cancel()
	<-done
}

func TestAsyncLoggerDropsOnOverflow(t *testing.T) {
	// Worker not running: the queue fills and further appends must drop
	// immediately instead of blocking.
	capture := &captureAppender{}
	logger := NewAsyncLogger(capture, 2)

	appendDone := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			logger.Append(rec("app", "job"))
		}
		close(appendDone)
	}()

	select {
	case <-appendDone:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a full queue")
	}
	assert.Equal(t, int64(3), logger.Dropped())
}

func TestAsyncLoggerFlushesOnShutdown(t *testing.T) {
	capture := &captureAppender{}
	logger := NewAsyncLogger(capture, 8)

	logger.Append(rec("app-1", "job-1"))
	logger.Append(rec("app-2", "job-2"))

	// Cancel before the worker starts; Run must still drain the queue.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		logger.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.Len(t, capture.appended(), 2)
}

func TestNopAppender(t *testing.T) {
	var appender Appender = NopAppender{}
	assert.NoError(t, appender.AppendRecord(context.Background(), rec("a", "b")))
	assert.NoError(t, appender.EnsureHeader(context.Background()))
}
