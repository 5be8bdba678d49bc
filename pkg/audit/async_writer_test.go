package audit

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistoriahq/vistoria/pkg/observability"
)

// memoryWriter records events in memory and can be made to fail a fixed
// number of times.
type memoryWriter struct {
	mu       sync.Mutex
	events   []*Event
	failures int
	attempts int
}

func (m *memoryWriter) Record(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures > 0 {
		m.failures--
		return errors.New("write failed")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryWriter) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...), nil
}

func (m *memoryWriter) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Stats{TotalEvents: int64(len(m.events))}, nil
}

func (m *memoryWriter) recorded() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func testEvent(actionType ActionType, blocked bool) *Event {
	return NewEvent(uuid.New(), "user-1", actionType, blocked, nil)
}

func TestAsyncWriter_RecordIsSynchronous(t *testing.T) {
	next := &memoryWriter{}
	writer := NewAsyncWriter(context.Background(), next, AsyncOptions{}, testLogger(), nil)
	defer writer.Shutdown(time.Second)

	err := writer.Record(context.Background(), testEvent(ActionAccessDenied, true))
	require.NoError(t, err)

	// No waiting: the event must be visible as soon as Record returns.
	assert.Len(t, next.recorded(), 1)
}

func TestAsyncWriter_RecordAsyncDrains(t *testing.T) {
	next := &memoryWriter{}
	writer := NewAsyncWriter(context.Background(), next, AsyncOptions{Workers: 2}, testLogger(), nil)

	for i := 0; i < 10; i++ {
		writer.RecordAsync(testEvent(ActionUserUpdate, false))
	}

	require.NoError(t, writer.Shutdown(2*time.Second))
	assert.Len(t, next.recorded(), 10)
}

func TestAsyncWriter_RetriesTransientFailures(t *testing.T) {
	next := &memoryWriter{failures: 2}
	writer := NewAsyncWriter(context.Background(), next, AsyncOptions{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, testLogger(), nil)
	defer writer.Shutdown(time.Second)

	err := writer.Record(context.Background(), testEvent(ActionAccessDenied, true))
	require.NoError(t, err)
	assert.Equal(t, 3, next.attempts)
	assert.Len(t, next.recorded(), 1)
}

func TestAsyncWriter_DeadLettersExhaustedWrites(t *testing.T) {
	deadLetterPath := filepath.Join(t.TempDir(), "audit-dead-letter.ndjson")
	next := &memoryWriter{failures: 100}
	writer := NewAsyncWriter(context.Background(), next, AsyncOptions{
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
		DeadLetterPath: deadLetterPath,
	}, testLogger(), nil)

	original := testEvent(ActionProtectedBlock, true)
	err := writer.Record(context.Background(), original)
	assert.Error(t, err)

	require.NoError(t, writer.Shutdown(time.Second))

	f, err := os.Open(deadLetterPath)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected one dead-letter line")

	recovered, err := FromJSON(scanner.Bytes())
	require.NoError(t, err)
	assert.Equal(t, original.ActorID, recovered.ActorID)
	assert.Equal(t, ActionProtectedBlock, recovered.ActionType)
	assert.True(t, recovered.Blocked)
	assert.False(t, scanner.Scan(), "expected exactly one dead-letter line")
}

func TestAsyncWriter_DelegatesReads(t *testing.T) {
	next := &memoryWriter{}
	writer := NewAsyncWriter(context.Background(), next, AsyncOptions{}, testLogger(), nil)
	defer writer.Shutdown(time.Second)

	require.NoError(t, writer.Record(context.Background(), testEvent(ActionUserUpdate, false)))

	events, err := writer.Search(context.Background(), SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	stats, err := writer.GetStats(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
}
