package netcore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Dispatcher implements request/response over the inherently asymmetric
// WebSocket transport: a Send frame is only confirmed by a later ACK
// carrying the same message_seq. The pending table is directly grounded on
// the register-before-write-then-await idiom used for WS reply correlation,
// adapted from a callback map to a close-channel map since an ACK carries no
// payload to hand back.
type Dispatcher struct {
	seq atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan struct{}

	inbound chan WithGeneration[serverToClient]

	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher and starts its inbound routing loop.
// streamCallback receives every Distribute frame as a ChatMessage,
// panic-isolated; it is nil-safe (a nil callback simply drops distributes).
func NewDispatcher(logger *slog.Logger, streamCallback func(ChatMessage)) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		pending: make(map[uint64]chan struct{}),
		inbound: make(chan WithGeneration[serverToClient], 64),
		logger:  logger,
	}
	go d.routeInbound(streamCallback)
	return d
}

// Inbound returns the channel a Session forwards received frames to.
func (d *Dispatcher) Inbound() chan WithGeneration[serverToClient] {
	return d.inbound
}

// Send allocates the next message_seq (per-core monotonic, independent of
// request generation), registers a one-shot notifier, enqueues the frame to
// the session's sender, and awaits the notifier. If the enclosing ctx is
// cancelled or times out first, the notifier entry is removed so no leak
// occurs; a late ACK for that message_seq is then silently dropped.
func (d *Dispatcher) Send(ctx context.Context, session *Session, conversationID uuid.UUID, content string) (NetworkEvent, error) {
	if session == nil || session.State() != sessionLive {
		return ChatEvent{Err: &ProtocolError{Kind: ErrMissingSession}}, nil
	}

	seq := d.seq.Add(1)
	notify := make(chan struct{})

	d.mu.Lock()
	d.pending[seq] = notify
	d.mu.Unlock()

	frame := clientToServer{
		Type:       frameTypeSend,
		MessageSeq: seq,
		Content:    ChatContent{ConversationID: conversationID, Content: content},
	}
	if err := session.Send(frame); err != nil {
		d.removePending(seq)
		return ChatEvent{Err: &ProtocolError{Kind: ErrMissingSession}}, nil
	}

	select {
	case <-notify:
		return ChatEvent{}, nil
	case <-ctx.Done():
		d.removePending(seq)
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) removePending(seq uint64) {
	d.mu.Lock()
	delete(d.pending, seq)
	d.mu.Unlock()
}

// routeInbound processes WithGeneration<ServerToClient> frames strictly in
// receive order on a single goroutine, so the stream callback is invoked in
// server-delivery order. ACK looks up and notifies the pending entry,
// discarding silently if absent (duplicate or late ACK is not an error).
// Distribute invokes streamCallback, panic-isolated.
func (d *Dispatcher) routeInbound(streamCallback func(ChatMessage)) {
	for wg := range d.inbound {
		switch wg.Payload.Type {
		case frameTypeACK:
			d.mu.Lock()
			notify, ok := d.pending[wg.Payload.MessageSeq]
			if ok {
				delete(d.pending, wg.Payload.MessageSeq)
			}
			d.mu.Unlock()
			if ok {
				close(notify)
			}
		case frameTypeDistribute:
			d.invokeStream(streamCallback, ChatMessage{
				Sender:         wg.Payload.Sender,
				ConversationID: wg.Payload.Content.ConversationID,
				Content:        wg.Payload.Content.Content,
			})
		default:
			d.logger.Warn("unrecognized inbound frame type", "type", wg.Payload.Type)
		}
	}
}

func (d *Dispatcher) invokeStream(streamCallback func(ChatMessage), msg ChatMessage) {
	if streamCallback == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("stream callback panicked", "panic", rec)
		}
	}()
	streamCallback(msg)
}
