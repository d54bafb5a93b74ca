package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeReceivesRetainedLatest(t *testing.T) {
	b := New()
	_ = b.Publish("topic", Event{Type: "a", Data: 1})

	sub := b.Subscribe("topic", 0)
	defer sub.Unsubscribe()

	select {
	case ev := <-sub.Events():
		if ev.Data != 1 {
			t.Fatalf("got %v, want replayed latest 1", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed latest event")
	}
}

func TestSubscribeBeforeAnyPublishGetsNothingUntilFirst(t *testing.T) {
	b := New()
	sub := b.Subscribe("topic", 0)
	defer sub.Unsubscribe()

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected early event %v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	_ = b.Publish("topic", Event{Type: "a", Data: 2})
	select {
	case ev := <-sub.Events():
		if ev.Data != 2 {
			t.Fatalf("got %v, want 2", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishFanOutToMultipleSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe("topic", 4)
	s2 := b.Subscribe("topic", 4)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	_ = b.Publish("topic", Event{Type: "a", Data: "x"})

	for _, s := range []*Subscription{s1, s2} {
		select {
		case ev := <-s.Events():
			if ev.Data != "x" {
				t.Fatalf("got %v, want x", ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestCloseDeliversFinalThenEndOfStream(t *testing.T) {
	b := New()
	sub := b.Subscribe("topic", 4)
	defer sub.Unsubscribe()

	final := Event{Type: "done", Data: "final"}
	if err := b.Close("topic", &final); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("channel closed before delivering final event")
		}
		if ev.Data != "final" {
			t.Fatalf("got %v, want final", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for final event")
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected channel to close after final event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for end of stream")
	}

	if err := sub.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil for a clean end of stream", err)
	}
}

func TestPublishAfterCloseReturnsErrTopicClosed(t *testing.T) {
	b := New()
	_ = b.Close("topic", nil)

	if err := b.Publish("topic", Event{Type: "a"}); err != ErrTopicClosed {
		t.Fatalf("Publish after close = %v, want ErrTopicClosed", err)
	}
	if err := b.Close("topic", nil); err != ErrTopicClosed {
		t.Fatalf("second Close = %v, want ErrTopicClosed", err)
	}
}

func TestSubscribeAfterCloseReplaysLatestThenEndOfStream(t *testing.T) {
	b := New()
	final := Event{Type: "done", Data: "last"}
	_ = b.Close("topic", &final)

	sub := b.Subscribe("topic", 0)
	defer sub.Unsubscribe()

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("channel closed before replaying retained event")
		}
		if ev.Data != "last" {
			t.Fatalf("got %v, want last", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replay")
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected immediate end of stream for a late subscriber")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for end of stream")
	}
}

func TestOverflowDropsSlowSubscriberWithoutBlockingPublisher(t *testing.T) {
	b := New()
	sub := b.Subscribe("topic", 1)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = b.Publish("topic", Event{Type: "a", Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish appears to have blocked on a slow subscriber")
	}

	// Drain whatever made it through, then expect end of stream with
	// ErrOverflow once the channel is closed by the drop.
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				if sub.Err() != ErrOverflow {
					t.Fatalf("Err() = %v, want ErrOverflow", sub.Err())
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for overflow to close the channel")
		}
	}
}

func TestUnsubscribeIsIdempotentAndStopsFurtherDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("topic", 4)
	sub.Unsubscribe()
	sub.Unsubscribe()

	_ = b.Publish("topic", Event{Type: "a", Data: 1})

	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %v after unsubscribe", ev)
		}
	default:
		// Nothing delivered and the channel is still open: exactly what an
		// unsubscribed (but not closed) subscription should look like.
	}
}
