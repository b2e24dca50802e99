package bus

import "testing"

func TestShellTopics_Distinct(t *testing.T) {
	topics := map[string]bool{
		TopicCaptcha: true,
		TopicSignup:  true,
		TopicLogin:   true,
		TopicSession: true,
		TopicChat:    true,
		TopicStream:  true,
		TopicError:   true,
	}
	if len(topics) != 7 {
		t.Fatalf("expected 7 unique topics, got %d", len(topics))
	}
	for name := range topics {
		if name == "" {
			t.Fatal("topic constant is empty")
		}
	}
}

func TestShellTopics_PrefixMatchesBus(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicChat)
	defer b.Unsubscribe(sub)

	b.Publish(TopicSession, "should not match")
	b.Publish(TopicChat, ChatEventPayload{SessionGeneration: 1, From: "peer", Body: "hello"})

	select {
	case evt := <-sub.Ch():
		if evt.Topic != TopicChat {
			t.Fatalf("expected topic %s, got %s", TopicChat, evt.Topic)
		}
		payload, ok := evt.Payload.(ChatEventPayload)
		if !ok {
			t.Fatalf("expected ChatEventPayload, got %T", evt.Payload)
		}
		if payload.Body != "hello" {
			t.Fatalf("unexpected payload body: %s", payload.Body)
		}
	default:
		t.Fatal("expected a buffered event on the chat topic")
	}
}

func TestErrorEventPayload_Fields(t *testing.T) {
	e := ErrorEventPayload{Generation: 42, Kind: "timeout", Message: "deadline exceeded"}
	if e.Generation != 42 || e.Kind != "timeout" || e.Message == "" {
		t.Fatalf("unexpected ErrorEventPayload: %+v", e)
	}
}
