package eventbus

import (
	"testing"
	"time"

	"github.com/jxucoder/agentdeck/model"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("session:abc")
	defer bus.Unsubscribe("session:abc", ch)

	bus.Publish("session:abc", &model.Event{Topic: "session:abc", Type: "log", Data: "hello"})
	bus.Publish("session:other", &model.Event{Topic: "session:other", Type: "log", Data: "noise"})

	select {
	case ev := <-ch:
		if ev.Data != "hello" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("received event for wrong topic: %+v", ev)
	default:
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := NewInMemoryBus()
	all := bus.SubscribeAll()
	defer bus.UnsubscribeAll(all)

	bus.Publish("session:a", &model.Event{Topic: "session:a", Type: "state", Data: "busy"})
	bus.Publish("chat:b", &model.Event{Topic: "chat:b", Type: "done", Data: "answer"})

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			got = append(got, ev.Topic)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", i)
		}
	}
	if got[0] != "session:a" || got[1] != "chat:b" {
		t.Fatalf("unexpected topics: %v", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("chat:x")
	bus.Unsubscribe("chat:x", ch)

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish("chat:x", &model.Event{Topic: "chat:x", Type: "message"})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("session:slow")
	defer bus.Unsubscribe("session:slow", ch)

	// Overfill the buffer; extra events are dropped, not blocking.
	for i := 0; i < 100; i++ {
		bus.Publish("session:slow", &model.Event{Topic: "session:slow", Type: "log"})
	}
	if len(ch) != 64 {
		t.Fatalf("expected full buffer of 64, got %d", len(ch))
	}
}
