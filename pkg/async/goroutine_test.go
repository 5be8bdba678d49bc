package async

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vistoriahq/vistoria/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestWorkerPool_ProcessesTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, 10, "test", time.Second, testLogger())

	var processed int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		err := pool.Submit(func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&processed, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	wg.Wait()
	if got := atomic.LoadInt32(&processed); got != 5 {
		t.Errorf("processed = %d, want 5", got)
	}
	if err := pool.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestWorkerPool_TrySubmitFullQueue(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test", time.Second, testLogger())
	defer pool.Shutdown(time.Second) //nolint:errcheck

	release := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func(ctx context.Context) error { //nolint:errcheck
		close(started)
		<-release
		return nil
	})
	<-started

	// Fill the single queue slot, then the next submit must be rejected.
	if !pool.TrySubmit(func(ctx context.Context) error { return nil }) {
		t.Fatal("expected first TrySubmit to be accepted")
	}
	if pool.TrySubmit(func(ctx context.Context) error { return nil }) {
		t.Error("expected TrySubmit to reject when the queue is full")
	}
	close(release)
}

func TestWorkerPool_ShutdownDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 10, "test", time.Second, testLogger())

	var processed int32
	for i := 0; i < 5; i++ {
		pool.Submit(func(ctx context.Context) error { //nolint:errcheck
			atomic.AddInt32(&processed, 1)
			return nil
		})
	}

	if err := pool.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := atomic.LoadInt32(&processed); got != 5 {
		t.Errorf("processed = %d, want 5: queued tasks must drain on shutdown", got)
	}

	if pool.TrySubmit(func(ctx context.Context) error { return nil }) {
		t.Error("TrySubmit after shutdown must be rejected")
	}
	if err := pool.Submit(func(ctx context.Context) error { return nil }); err == nil {
		t.Error("Submit after shutdown must fail")
	}
}

func TestSafeGo_ZeroTimeoutUsesParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan context.Context, 1)
	SafeGo(ctx, 0, "long running task", testLogger(), func(taskCtx context.Context) error {
		got <- taskCtx
		return nil
	})

	select {
	case taskCtx := <-got:
		if taskCtx != ctx {
			t.Error("zero timeout must pass the parent context through unchanged")
		}
		if taskCtx.Err() != nil {
			t.Errorf("context unexpectedly done: %v", taskCtx.Err())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), time.Second, "panicking task", testLogger(), func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	// Reaching here without crashing the test binary is the assertion.
}
