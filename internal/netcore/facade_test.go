package netcore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestCore(t *testing.T, srv interface {
	RESTBaseURL() string
	WSURL() string
}) *Core {
	t.Helper()
	pool := newMockCore(t, nil)
	core := NewCore(srv.RESTBaseURL(), srv.WSURL(), pool, nil)
	t.Cleanup(func() { core.Shutdown(time.Second) })
	return core
}

func TestCore_ConnectThenSendChatMessage(t *testing.T) {
	srv := startMockServer(t)
	srv.ACKDelay = 50 * time.Millisecond
	core := newTestCore(t, srv)

	connected := make(chan struct{})
	core.ConnectChat("access-token", nil, 2*time.Second,
		func(WithGeneration[SessionEvent]) { close(connected) },
		func(wg WithGeneration[NetworkError]) { t.Errorf("unexpected connect error: %v", wg.Payload) },
	)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectChat never succeeded")
	}

	sent := make(chan struct{})
	core.SendChatMessage(uuid.New(), "hello", 2*time.Second,
		func(wg WithGeneration[ChatEvent]) {
			if wg.Payload.Err != nil {
				t.Errorf("unexpected send error: %v", wg.Payload.Err)
			}
			close(sent)
		},
		func(wg WithGeneration[NetworkError]) { t.Errorf("unexpected send network error: %v", wg.Payload) },
	)

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("SendChatMessage never acknowledged")
	}
}

func TestCore_SendChatMessageWithoutConnectYieldsMissingSession(t *testing.T) {
	srv := startMockServer(t)
	core := newTestCore(t, srv)

	done := make(chan *ProtocolError, 1)
	core.SendChatMessage(uuid.New(), "hello", time.Second,
		func(wg WithGeneration[ChatEvent]) { done <- wg.Payload.Err },
		func(wg WithGeneration[NetworkError]) { t.Errorf("unexpected network error: %v", wg.Payload) },
	)

	select {
	case err := <-done:
		if err == nil || err.Kind != ErrMissingSession {
			t.Fatalf("expected MissingSession, got %+v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendChatMessage never completed")
	}
}

func TestCore_ConnectChatRejectsReentry(t *testing.T) {
	srv := startMockServer(t)
	core := newTestCore(t, srv)

	connected := make(chan struct{})
	core.ConnectChat("access-token", nil, 2*time.Second,
		func(WithGeneration[SessionEvent]) { close(connected) },
		func(wg WithGeneration[NetworkError]) { t.Errorf("unexpected connect error: %v", wg.Payload) },
	)
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectChat never succeeded")
	}

	_, err := core.ConnectChat("access-token", nil, 2*time.Second,
		func(WithGeneration[SessionEvent]) { t.Error("unexpected second success") },
		func(wg WithGeneration[NetworkError]) { t.Errorf("unexpected second connect error: %v", wg.Payload) },
	)
	if err != ErrSessionAlreadyLive {
		t.Fatalf("expected ErrSessionAlreadyLive, got %v", err)
	}
}

// TestCore_ConnectChatConcurrentCallsRejectSecond exercises the race the
// reservation slot exists to close: two ConnectChat calls issued back to
// back while no session exists yet must not both proceed to dial. Without a
// synchronous reservation, both would observe a nil c.session and race
// DialSession to completion.
func TestCore_ConnectChatConcurrentCallsRejectSecond(t *testing.T) {
	srv := startMockServer(t)
	srv.ACKDelay = 100 * time.Millisecond
	core := newTestCore(t, srv)

	type outcome struct {
		err      error
		accepted bool
	}
	results := make(chan outcome, 2)

	launch := func() {
		connected := make(chan struct{})
		_, err := core.ConnectChat("access-token", nil, 2*time.Second,
			func(WithGeneration[SessionEvent]) { close(connected) },
			func(WithGeneration[NetworkError]) { close(connected) },
		)
		if err != nil {
			results <- outcome{err: err}
			return
		}
		<-connected
		results <- outcome{accepted: true}
	}

	go launch()
	go launch()

	var accepted, rejected int
	for i := 0; i < 2; i++ {
		o := <-results
		if o.accepted {
			accepted++
		} else if o.err == ErrSessionAlreadyLive {
			rejected++
		} else {
			t.Fatalf("unexpected error from ConnectChat: %v", o.err)
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("expected exactly one accepted and one rejected ConnectChat, got accepted=%d rejected=%d", accepted, rejected)
	}
}

// TestCore_CancelBeforeCompletionSuppressesSuccessCallback uses submit
// directly (package-internal) with a slow TaskFunc rather than a real REST
// call, so the cancel is guaranteed to win the race instead of depending on
// request latency against the mock server.
func TestCore_CancelBeforeCompletionSuppressesSuccessCallback(t *testing.T) {
	srv := startMockServer(t)
	core := newTestCore(t, srv)

	errCh := make(chan NetworkErrorKind, 1)
	gen := submit[CaptchaEvent](core, time.Minute, func(ctx context.Context) (NetworkEvent, error) {
		select {
		case <-time.After(time.Hour):
		case <-ctx.Done():
		}
		return CaptchaEvent{}, nil
	},
		func(WithGeneration[CaptchaEvent]) { t.Error("unexpected success after cancel") },
		func(wg WithGeneration[NetworkError]) { errCh <- wg.Payload.Kind },
	)

	if ok := core.Cancel(gen); !ok {
		t.Fatal("expected cancel to succeed")
	}

	select {
	case kind := <-errCh:
		if kind != ErrUsrCancelled {
			t.Fatalf("expected ErrUsrCancelled, got %v", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel never delivered an error callback")
	}
}
