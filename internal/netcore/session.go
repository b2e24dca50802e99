package netcore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/server-client-editor/ClientSide/internal/shared"
)

// sessionState is the WebSocket Session's state machine: Connecting -> Live
// -> Closing -> Closed. Only Live accepts sends; the transition to Closing
// is irreversible.
type sessionState int32

const (
	sessionConnecting sessionState = iota
	sessionLive
	sessionClosing
	sessionClosed
)

var errSessionNotLive = errors.New("session is not live")

// Session owns one authenticated WebSocket to the chat endpoint, split into
// a sender and a receiver sub-task supervised by a single watcher that trips
// shutdown the moment either half exits. There is no reconnection: a failed
// session is terminal.
type Session struct {
	conn  *websocket.Conn
	state atomic.Int32

	outbound chan clientToServer
	inbound  chan<- WithGeneration[serverToClient] // owned by the Dispatcher

	generation Generation
	traceID    string
	logger     *slog.Logger

	terminateOnce sync.Once
	done          chan struct{}
}

// NewReservedSession builds a placeholder Session in the Connecting state,
// with no socket behind it yet. ConnectChat stores it in Core.session
// synchronously so a second ConnectChat call sees a non-nil, Connecting slot
// and is rejected before the real dial even starts. It is safe to State() or
// Send() against (Send fails immediately, since State() != Live) and safe to
// Close() if the dial never completes (terminate() tolerates a nil conn).
func NewReservedSession(generation Generation) *Session {
	s := &Session{
		generation: generation,
		done:       make(chan struct{}),
	}
	s.state.Store(int32(sessionConnecting))
	return s
}

// DialSession performs the handshake (TLS via the shared root pool,
// Authorization: Bearer header) and launches the sender/receiver/watcher
// trio. inbound is the Dispatcher's channel for WithGeneration-wrapped
// ServerToClient frames.
func DialSession(ctx context.Context, wsURL, accessToken string, rootCAs *x509.CertPool, generation Generation, inbound chan<- WithGeneration[serverToClient], logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	traceID := shared.TraceID(ctx)
	logger.Debug("dialing chat session", "generation", generation, "trace_id", traceID, "url", wsURL,
		"authorization", shared.Redact("Bearer "+accessToken))

	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: rootCAs}, Proxy: nil},
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + accessToken},
		},
	})
	if err != nil {
		logger.Warn("chat session dial failed", "generation", generation, "trace_id", traceID, "error", err)
		return nil, err
	}

	s := &Session{
		conn:       conn,
		outbound:   make(chan clientToServer, 16),
		inbound:    inbound,
		generation: generation,
		traceID:    traceID,
		logger:     logger,
		done:       make(chan struct{}),
	}
	s.state.Store(int32(sessionLive))

	senderDone := make(chan struct{})
	receiverDone := make(chan struct{})

	go s.sendLoop(senderDone)
	go s.receiveLoop(receiverDone)
	go s.watch(senderDone, receiverDone)

	return s, nil
}

// State reports the current point in Connecting -> Live -> Closing ->
// Closed.
func (s *Session) State() sessionState {
	return sessionState(s.state.Load())
}

// Send enqueues an outbound frame to the sender sub-task. It fails
// immediately if the session is not Live; it never blocks waiting for the
// state to change.
func (s *Session) Send(frame clientToServer) error {
	if s.State() != sessionLive {
		return errSessionNotLive
	}
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return errSessionNotLive
	}
}

// sendLoop reads ClientToServer frames from the outbound channel and writes
// them as text JSON. It terminates on the shutdown signal.
func (s *Session) sendLoop(senderDone chan<- struct{}) {
	defer close(senderDone)
	for {
		select {
		case frame := <-s.outbound:
			if err := wsjson.Write(context.Background(), s.conn, frame); err != nil {
				s.logger.Warn("session send failed", "generation", s.generation, "trace_id", s.traceID, "error", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// receiveLoop reads frames from the socket and forwards them to the
// Dispatcher's inbound channel. A Close frame, a transport error, or a
// decode error terminates the receiver; there is no recovery.
func (s *Session) receiveLoop(receiverDone chan<- struct{}) {
	defer close(receiverDone)
	for {
		var frame serverToClient
		if err := wsjson.Read(context.Background(), s.conn, &frame); err != nil {
			s.logger.Info("session receive ended", "generation", s.generation, "trace_id", s.traceID, "error", err)
			return
		}
		select {
		case s.inbound <- WithGeneration[serverToClient]{Generation: s.generation, Payload: frame}:
		case <-s.done:
			return
		}
	}
}

// watch awaits either sub-task's completion and trips shutdown, causing the
// other to exit cleanly. It is the sole shutdown coordinator.
func (s *Session) watch(senderDone, receiverDone <-chan struct{}) {
	select {
	case <-senderDone:
	case <-receiverDone:
	}
	s.terminate()
}

// terminate transitions the session to Closing then Closed and releases the
// socket. Outstanding acknowledgement waits are not notified here; they
// time out on their own, per the transport contract. conn is nil for a
// reserved placeholder whose dial never completed; there is nothing to close
// in that case.
func (s *Session) terminate() {
	s.terminateOnce.Do(func() {
		s.state.Store(int32(sessionClosing))
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		s.state.Store(int32(sessionClosed))
	})
}

// Close requests an orderly shutdown of the session from outside (core
// teardown); it is equivalent to either sub-task exiting.
func (s *Session) Close() {
	s.terminate()
}
