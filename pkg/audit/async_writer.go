package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vistoriahq/vistoria/pkg/async"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

// AsyncOptions configures the background audit writer.
type AsyncOptions struct {
	QueueSize      int
	Workers        int
	WriteTimeout   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	DeadLetterPath string
}

// AsyncWriter wraps a Writer with a bounded background queue. Events for
// allowed mutations are enqueued without blocking the request path; denied
// and blocked events go through the synchronous Record path so they are
// persisted before the response is sent. Writes that keep failing after
// retries land in a local dead-letter file instead of disappearing.
type AsyncWriter struct {
	next    Writer
	pool    *async.WorkerPool
	opts    AsyncOptions
	logger  *observability.Logger
	metrics *observability.Metrics

	deadLetterMu   sync.Mutex
	deadLetterFile *os.File
}

// NewAsyncWriter creates the background writer. The dead-letter file is
// opened lazily on first use so a missing directory does not prevent startup.
func NewAsyncWriter(ctx context.Context, next Writer, opts AsyncOptions, logger *observability.Logger, metrics *observability.Metrics) *AsyncWriter {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}

	return &AsyncWriter{
		next:    next,
		pool:    async.NewWorkerPool(ctx, opts.Workers, opts.QueueSize, "audit writer", opts.WriteTimeout, logger),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Record persists the event before returning. Used for blocked and denied
// events, where losing the record on an immediate process exit is not
// acceptable. The error is informational: callers must not revert a decision
// because its audit write failed.
func (w *AsyncWriter) Record(ctx context.Context, event *Event) error {
	err := w.writeWithRetry(ctx, event)
	w.observe(event, err)
	return err
}

// RecordAsync enqueues the event without blocking. When the queue is full
// the event is counted as dropped and written to the dead-letter file.
func (w *AsyncWriter) RecordAsync(event *Event) {
	submitted := w.pool.TrySubmit(func(ctx context.Context) error {
		err := w.writeWithRetry(ctx, event)
		w.observe(event, err)
		w.updateQueueDepth()
		return nil
	})

	if !submitted {
		if w.metrics != nil {
			w.metrics.AuditDroppedTotal.Inc()
		}
		w.logger.WithField("action_type", string(event.ActionType)).
			Warn("audit queue full, diverting event to dead letter")
		w.deadLetter(event)
		return
	}
	w.updateQueueDepth()
}

// Search delegates to the underlying writer.
func (w *AsyncWriter) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	return w.next.Search(ctx, filter)
}

// GetStats delegates to the underlying writer.
func (w *AsyncWriter) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	return w.next.GetStats(ctx, startTime, endTime)
}

// Shutdown drains the queue, waiting up to timeout for pending events.
func (w *AsyncWriter) Shutdown(timeout time.Duration) error {
	err := w.pool.Shutdown(timeout)

	w.deadLetterMu.Lock()
	defer w.deadLetterMu.Unlock()
	if w.deadLetterFile != nil {
		if closeErr := w.deadLetterFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		w.deadLetterFile = nil
	}
	return err
}

// QueueDepth reports the number of events waiting to be written.
func (w *AsyncWriter) QueueDepth() int {
	return w.pool.QueueDepth()
}

func (w *AsyncWriter) writeWithRetry(ctx context.Context, event *Event) error {
	var err error
	for attempt := 0; attempt <= w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.AuditRetriesTotal.Inc()
			}
			select {
			case <-ctx.Done():
				w.deadLetter(event)
				return ctx.Err()
			case <-time.After(w.opts.RetryBackoff * time.Duration(attempt)):
			}
		}

		if err = w.next.Record(ctx, event); err == nil {
			return nil
		}
		w.logger.WithError(err).
			WithField("attempt", strconv.Itoa(attempt+1)).
			Warn("audit write failed")
	}

	w.deadLetter(event)
	return fmt.Errorf("audit write exhausted retries: %w", err)
}

// deadLetter appends the event as one NDJSON line. A failure here is logged
// and dropped; there is no further fallback.
func (w *AsyncWriter) deadLetter(event *Event) {
	if w.opts.DeadLetterPath == "" {
		return
	}

	data, err := event.ToJSON()
	if err != nil {
		w.logger.WithError(err).Error("failed to serialize dead-letter audit event")
		return
	}

	w.deadLetterMu.Lock()
	defer w.deadLetterMu.Unlock()

	if w.deadLetterFile == nil {
		if err := os.MkdirAll(filepath.Dir(w.opts.DeadLetterPath), 0o755); err != nil {
			w.logger.WithError(err).Error("failed to create dead-letter directory")
			return
		}
		f, err := os.OpenFile(w.opts.DeadLetterPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			w.logger.WithError(err).Error("failed to open dead-letter file")
			return
		}
		w.deadLetterFile = f
	}

	if _, err := w.deadLetterFile.Write(append(data, '\n')); err != nil {
		w.logger.WithError(err).Error("failed to write dead-letter audit event")
		return
	}
	if w.metrics != nil {
		w.metrics.AuditDeadLetterTotal.Inc()
	}
}

func (w *AsyncWriter) observe(event *Event, err error) {
	if w.metrics == nil || err != nil {
		return
	}
	w.metrics.AuditEventsTotal.WithLabelValues(
		string(event.ActionType), strconv.FormatBool(event.Blocked),
	).Inc()
}

func (w *AsyncWriter) updateQueueDepth() {
	if w.metrics != nil {
		w.metrics.AuditQueueDepth.Set(float64(w.pool.QueueDepth()))
	}
}
