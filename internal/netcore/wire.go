// Package netcore implements the client-side network core: task registry,
// REST worker, WebSocket session, message dispatcher, and the façade a shell
// calls through.
package netcore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Generation is a monotonically increasing identifier minted by the Task
// Registry. It tags every submitted request and every outgoing chat message
// and is the sole correlator between a request and its eventual callback.
type Generation uint64

// WithGeneration is the envelope delivered to every callback.
type WithGeneration[T any] struct {
	Generation Generation
	Payload    T
}

// NetworkErrorKind distinguishes transport-level conditions from protocol
// failures embedded in a NetworkEvent.
type NetworkErrorKind int

const (
	ErrAborted NetworkErrorKind = iota
	ErrSysCancelled
	ErrUsrCancelled
	ErrTimeout
)

func (k NetworkErrorKind) String() string {
	switch k {
	case ErrAborted:
		return "aborted"
	case ErrSysCancelled:
		return "sys_cancelled"
	case ErrUsrCancelled:
		return "usr_cancelled"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// NetworkError is delivered to the error callback for a generation; it never
// carries protocol-layer detail, only why the task itself never ran to
// completion.
type NetworkError struct {
	Kind NetworkErrorKind
}

func (e *NetworkError) Error() string {
	return "network: " + e.Kind.String()
}

// ProtocolErrorKind enumerates the server-defined failure variants embedded
// in a NetworkEvent's own Err field.
type ProtocolErrorKind string

const (
	ErrFallback       ProtocolErrorKind = "fallback_error"
	ErrDuplicateName  ProtocolErrorKind = "duplicate_name"
	ErrWeakPassword   ProtocolErrorKind = "weak_password"
	ErrWrongCaptcha   ProtocolErrorKind = "wrong_captcha"
	ErrUnauthorized   ProtocolErrorKind = "unauthorized"
	ErrMissingSession ProtocolErrorKind = "missing_session"
)

// ProtocolError is a server- or precondition-defined failure carried inside
// a successfully-completed NetworkEvent, as opposed to a NetworkError which
// means the task itself never finished.
type ProtocolError struct {
	Kind ProtocolErrorKind
}

func (e *ProtocolError) Error() string {
	return "protocol: " + string(e.Kind)
}

// NetworkEvent is the sum type delivered via the success callback. Each
// operation produces exactly one implementer.
type NetworkEvent interface {
	isNetworkEvent()
}

// CaptchaEvent is the result of fetch_captcha.
type CaptchaEvent struct {
	ID          uuid.UUID
	ImageBase64 string
	Err         *ProtocolError
}

func (CaptchaEvent) isNetworkEvent() {}

// SignupEvent is the result of signup. Success carries no payload.
type SignupEvent struct {
	Err *ProtocolError
}

func (SignupEvent) isNetworkEvent() {}

// LoginEvent is the result of login.
type LoginEvent struct {
	UserID      uuid.UUID
	AccessToken string
	Err         *ProtocolError
}

func (LoginEvent) isNetworkEvent() {}

// SessionEvent is the result of connect_chat.
type SessionEvent struct {
	Err *ProtocolError
}

func (SessionEvent) isNetworkEvent() {}

// ChatEvent is the result of send_chat_message: Err nil means MessageSent.
type ChatEvent struct {
	Err *ProtocolError
}

func (ChatEvent) isNetworkEvent() {}

// NetworkResult is the sum { Ok(NetworkEvent) | Err(NetworkError) } that the
// Task Registry's result pump dispatches. Exactly one of Event/Err is set.
type NetworkResult struct {
	Event NetworkEvent
	Err   *NetworkError
}

// TaskFunc is the unit of work spawned on the registry. A non-nil error
// return means the task itself could not complete (surfaced as
// NetworkError{Kind: ErrAborted}), distinct from a NetworkEvent that embeds
// its own ProtocolError.
type TaskFunc func(ctx context.Context) (NetworkEvent, error)

// ChatMessage is a server-pushed chat message delivered to a session's
// stream callback. ACK frames never reach the stream callback (only
// Distribute does), so there is no need for a wider StreamMessage sum type.
type ChatMessage struct {
	Sender         uuid.UUID
	ConversationID uuid.UUID
	Content        string
}

// ChatContent is the payload shape shared by outbound Send frames and
// inbound Distribute frames.
type ChatContent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
}

// clientToServer is the outbound wire frame. Only Send exists today; the
// Type discriminant keeps the envelope extensible without breaking decoders
// on the server side.
type clientToServer struct {
	Type       string      `json:"type"`
	MessageSeq uint64      `json:"message_seq"`
	Content    ChatContent `json:"content"`
}

// serverToClient is the inbound wire frame: either an ACK or a Distribute.
type serverToClient struct {
	Type       string      `json:"type"`
	MessageSeq uint64      `json:"message_seq,omitempty"`
	Sender     uuid.UUID   `json:"sender,omitempty"`
	Content    ChatContent `json:"content,omitempty"`
}

const (
	frameTypeSend       = "send"
	frameTypeACK        = "ack"
	frameTypeDistribute = "distribute"
)

// captchaResponse is the strict REST captcha payload. Only ID and
// ImageBase64 reach the caller; ExpireAt is parsed but not surfaced.
type captchaResponse struct {
	ID          uuid.UUID `json:"id"`
	ImageBase64 string    `json:"image_base64"`
	ExpireAt    time.Time `json:"expire_at"`
}

// credentialsRequest is the shared body shape for signup and login.
type credentialsRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// loginResponse is the strict REST login payload.
type loginResponse struct {
	UserID     uuid.UUID `json:"user_id"`
	AuthTokens struct {
		AccessToken      string `json:"access_token"`
		AccessExpiresIn  int64  `json:"access_expires_in"`
		RefreshToken     string `json:"refresh_token"`
		RefreshExpiresIn int64  `json:"refresh_expires_in"`
	} `json:"auth_tokens"`
}

// apiErrorBody is the `{code: "..."}` shape the REST worker inspects to
// distinguish WrongCaptcha from a generic non-2xx failure.
type apiErrorBody struct {
	Code string `json:"code"`
}
