package netcore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil)
}

func neverCompletes(ctx context.Context) (NetworkEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func immediateSuccess(event NetworkEvent) TaskFunc {
	return func(ctx context.Context) (NetworkEvent, error) {
		return event, nil
	}
}

func TestRegistry_GenerationUniqueness(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(time.Second)

	const n = 200
	seen := make(map[Generation]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen := r.Spawn(time.Second, immediateSuccess(CaptchaEvent{}), func(NetworkResult) {})
			mu.Lock()
			seen[gen] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expected %d distinct generations, got %d", n, len(seen))
	}
}

func TestRegistry_CallbackExactlyOnceOnSuccess(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(time.Second)

	var calls atomic.Int32
	done := make(chan struct{})
	r.Spawn(time.Second, immediateSuccess(CaptchaEvent{ImageBase64: "AAA="}), func(result NetworkResult) {
		calls.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one callback invocation, got %d", got)
	}
}

func TestRegistry_CancelBeforeCompletionDropsCallback(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(time.Second)

	var calls atomic.Int32
	gen := r.Spawn(time.Minute, neverCompletes, func(NetworkResult) {
		calls.Add(1)
	})

	if ok := r.Cancel(gen); !ok {
		t.Fatal("expected cancel to report ok")
	}

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one callback (UsrCancelled) invocation, got %d", got)
	}
}

func TestRegistry_IdempotentCancel(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(time.Second)

	gen := r.Spawn(time.Minute, neverCompletes, func(NetworkResult) {})
	if ok := r.Cancel(gen); !ok {
		t.Fatal("expected first cancel to report ok")
	}
	if ok := r.Cancel(gen); ok {
		t.Fatal("expected second cancel to report not_found")
	}
}

func TestRegistry_Timeout(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(time.Second)

	const timeout = 50 * time.Millisecond
	start := time.Now()
	done := make(chan NetworkResult, 1)
	r.Spawn(timeout, neverCompletes, func(result NetworkResult) {
		done <- result
	})

	select {
	case result := <-done:
		if result.Err == nil || result.Err.Kind != ErrTimeout {
			t.Fatalf("expected ErrTimeout, got %+v", result)
		}
		if elapsed := time.Since(start); elapsed > timeout+200*time.Millisecond {
			t.Fatalf("timeout delivered too late: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
}

func TestRegistry_ShutdownDeliversSysCancelled(t *testing.T) {
	r := newTestRegistry()

	done := make(chan NetworkResult, 1)
	r.Spawn(time.Minute, neverCompletes, func(result NetworkResult) {
		done <- result
	})

	r.Shutdown(time.Second)

	select {
	case result := <-done:
		if result.Err == nil || result.Err.Kind != ErrSysCancelled {
			t.Fatalf("expected ErrSysCancelled, got %+v", result)
		}
	default:
		t.Fatal("expected shutdown to deliver a result synchronously by the time it returns")
	}
}

func TestRegistry_CallbackPanicIsolated(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(time.Second)

	next := make(chan struct{})
	r.Spawn(time.Second, immediateSuccess(CaptchaEvent{}), func(NetworkResult) {
		panic("boom")
	})
	r.Spawn(time.Second, immediateSuccess(CaptchaEvent{}), func(NetworkResult) {
		close(next)
	})

	select {
	case <-next:
	case <-time.After(time.Second):
		t.Fatal("pump appears to have died after a panicking callback")
	}
}
