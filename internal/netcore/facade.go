package netcore

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrSessionAlreadyLive is returned by ConnectChat at submission time when a
// SessionRecord is already Live or Connecting. Per the binding resolution of
// the session re-entry open question, the existing session is left alone —
// it is not silently replaced or torn down.
var ErrSessionAlreadyLive = errors.New("netcore: a chat session is already live")

// Core is the Shell Bridge: it wires the Task Registry, REST Worker,
// Dispatcher, and the at-most-one live Session slot, and exposes the
// synchronous façade the shell calls through. Every façade call returns
// immediately with a freshly allocated generation; results arrive later on
// the caller-supplied callbacks, invoked on the core's own goroutines — any
// shell-thread-only state a callback touches must go through a channel the
// shell owns.
type Core struct {
	registry *Registry
	rest     *RESTWorker
	rootCAs  *x509.CertPool
	wsURL    string
	logger   *slog.Logger

	mu         sync.Mutex
	session    *Session
	dispatcher *Dispatcher

	sessionSeq atomic.Uint64
}

// NewCore constructs the core from a loaded configuration. TLS setup failure
// here is fatal: a nil or empty root pool is a caller error.
func NewCore(restBaseURL, wsURL string, rootCAs *x509.CertPool, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		registry: NewRegistry(logger),
		rest:     NewRESTWorker(restBaseURL, rootCAs, logger),
		rootCAs:  rootCAs,
		wsURL:    wsURL,
		logger:   logger,
	}
}

// Shutdown aborts every outstanding task and tears down any live session.
func (c *Core) Shutdown(drain time.Duration) {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session != nil {
		session.Close()
	}
	c.registry.Shutdown(drain)
}

// Cancel aborts the task identified by generation. Returns false if unknown.
func (c *Core) Cancel(gen Generation) bool {
	return c.registry.Cancel(gen)
}

// submit bridges the Registry's uniform callback shape to a façade
// operation's typed success callback, branching on NetworkResult and
// invoking the matching user callback. A payload of the wrong concrete type
// is a programming error: it is logged, not delivered.
func submit[E NetworkEvent](c *Core, timeout time.Duration, fn TaskFunc, onSuccess func(WithGeneration[E]), onError func(WithGeneration[NetworkError])) Generation {
	var gen Generation
	cb := func(result NetworkResult) {
		if result.Err != nil {
			if onError != nil {
				onError(WithGeneration[NetworkError]{Generation: gen, Payload: *result.Err})
			}
			return
		}
		typed, ok := result.Event.(E)
		if !ok {
			c.logger.Error("callback payload type mismatch", "generation", gen, "want", fmt.Sprintf("%T", *new(E)), "got", fmt.Sprintf("%T", result.Event))
			return
		}
		if onSuccess != nil {
			onSuccess(WithGeneration[E]{Generation: gen, Payload: typed})
		}
	}
	gen = c.registry.Spawn(timeout, fn, cb)
	return gen
}

// FetchCaptcha issues GET captcha over the REST Worker.
func (c *Core) FetchCaptcha(timeout time.Duration, onSuccess func(WithGeneration[CaptchaEvent]), onError func(WithGeneration[NetworkError])) Generation {
	return submit(c, timeout, func(ctx context.Context) (NetworkEvent, error) {
		return c.rest.FetchCaptcha(ctx)
	}, onSuccess, onError)
}

// Signup issues POST signup over the REST Worker.
func (c *Core) Signup(username, password, captchaID, captchaAnswer string, timeout time.Duration, onSuccess func(WithGeneration[SignupEvent]), onError func(WithGeneration[NetworkError])) Generation {
	return submit(c, timeout, func(ctx context.Context) (NetworkEvent, error) {
		return c.rest.Signup(ctx, username, password, captchaID, captchaAnswer)
	}, onSuccess, onError)
}

// Login issues POST login over the REST Worker.
func (c *Core) Login(username, password, captchaID, captchaAnswer string, timeout time.Duration, onSuccess func(WithGeneration[LoginEvent]), onError func(WithGeneration[NetworkError])) Generation {
	return submit(c, timeout, func(ctx context.Context) (NetworkEvent, error) {
		return c.rest.Login(ctx, username, password, captchaID, captchaAnswer)
	}, onSuccess, onError)
}

// ConnectChat dials the chat WebSocket and installs it as the core's sole
// live session. If a session is already Live or Connecting, it rejects with
// ErrSessionAlreadyLive at submission time without tearing down the
// existing one — the generation return value is meaningless in that case.
// The rejection check and the slot reservation happen in the same critical
// section: a reserved placeholder session (Connecting, no socket yet) is
// stored in c.session before this call returns, so a second ConnectChat
// issued while the dial is still in flight sees a non-nil Connecting slot
// instead of racing the first dial to completion. streamCallback receives
// every Distribute frame for the lifetime of the session, panic-isolated.
func (c *Core) ConnectChat(accessToken string, streamCallback func(ChatMessage), timeout time.Duration, onSuccess func(WithGeneration[SessionEvent]), onError func(WithGeneration[NetworkError])) (Generation, error) {
	c.mu.Lock()
	if c.session != nil && (c.session.State() == sessionLive || c.session.State() == sessionConnecting) {
		c.mu.Unlock()
		return 0, ErrSessionAlreadyLive
	}
	sessionGen := Generation(c.sessionSeq.Add(1))
	reservation := NewReservedSession(sessionGen)
	c.session = reservation
	c.mu.Unlock()

	gen := submit(c, timeout, func(ctx context.Context) (NetworkEvent, error) {
		dispatcher := NewDispatcher(c.logger, streamCallback)
		session, err := DialSession(ctx, c.wsURL, accessToken, c.rootCAs, sessionGen, dispatcher.Inbound(), c.logger)
		if err != nil {
			c.mu.Lock()
			if c.session == reservation {
				c.session = nil
			}
			c.mu.Unlock()
			return SessionEvent{Err: &ProtocolError{Kind: ErrFallback}}, nil
		}
		c.mu.Lock()
		c.session = session
		c.dispatcher = dispatcher
		c.mu.Unlock()
		return SessionEvent{}, nil
	}, onSuccess, onError)

	return gen, nil
}

// SendChatMessage sends a chat message through the Dispatcher over the live
// session. Completes with MessageError::MissingSession immediately if no
// session exists, per the Dispatcher's send precondition.
func (c *Core) SendChatMessage(conversationID uuid.UUID, content string, timeout time.Duration, onSuccess func(WithGeneration[ChatEvent]), onError func(WithGeneration[NetworkError])) Generation {
	return submit(c, timeout, func(ctx context.Context) (NetworkEvent, error) {
		c.mu.Lock()
		session := c.session
		dispatcher := c.dispatcher
		c.mu.Unlock()
		if session == nil || dispatcher == nil {
			return ChatEvent{Err: &ProtocolError{Kind: ErrMissingSession}}, nil
		}
		return dispatcher.Send(ctx, session, conversationID, content)
	}, onSuccess, onError)
}
