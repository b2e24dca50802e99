package bus

// ChatEventPayload is published on TopicChat when a message is distributed
// to the active session.
type ChatEventPayload struct {
	SessionGeneration uint64
	From              string
	Body              string
}

// ErrorEventPayload is published on TopicError alongside any other topic's
// failure callback, so a shell that only watches one channel still observes
// every network error without subscribing per-kind.
type ErrorEventPayload struct {
	Generation uint64
	Kind       string
	Message    string
}
