package eventbus

import (
	"sync"
	"sync/atomic"
)

// Subscription is a live, ordered view of one topic.
type Subscription struct {
	events chan Event
	errv   atomic.Value // error

	unsubOnce sync.Once
	unsub     func()
}

// Events returns the channel of delivered events. It closes when the topic
// reaches end of stream (terminal + drained) or when the bus drops this
// subscriber for falling behind.
func (s *Subscription) Events() <-chan Event { return s.events }

// Err returns the reason the channel closed early, or nil if it closed
// because the topic reached a normal end of stream (or hasn't closed yet).
func (s *Subscription) Err() error {
	if v := s.errv.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Unsubscribe stops delivery and releases the subscription's buffer. Safe
// to call more than once and safe to call after the channel has closed on
// its own.
func (s *Subscription) Unsubscribe() {
	s.unsubOnce.Do(s.unsub)
}

func (s *Subscription) dropForOverflow() {
	s.errv.Store(ErrOverflow)
	close(s.events)
}

type topic struct {
	mu       sync.Mutex
	name     string
	subs     map[uint64]*Subscription
	seq      uint64
	latest   *Event
	terminal bool
}

func newTopic(name string) *topic {
	return &topic{name: name, subs: make(map[uint64]*Subscription)}
}

func (t *topic) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, buffer)
	if t.latest != nil {
		ch <- *t.latest
	}
	if t.terminal {
		close(ch)
		return &Subscription{events: ch, unsub: func() {}}
	}

	t.seq++
	id := t.seq

	sub := &Subscription{events: ch}
	sub.unsub = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.subs[id]; ok && cur == sub {
			delete(t.subs, id)
		}
	}
	t.subs[id] = sub
	return sub
}

func (t *topic) publish(e Event) error {
	t.mu.Lock()
	if t.terminal {
		t.mu.Unlock()
		return ErrTopicClosed
	}
	t.latest = &e
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		// If a concurrent Close/dropSubscriber closes sub.events between the
		// snapshot above and this send, recover from the resulting "send on
		// closed channel" panic: closing is safe because Publish recovers
		// from send panics.
		func() {
			defer func() { _ = recover() }()
			select {
			case sub.events <- e:
			default:
				t.dropSubscriber(sub)
			}
		}()
	}
	return nil
}

// dropSubscriber removes a slow subscriber and marks it with ErrOverflow so
// the publisher never blocks on, or waits for, a stalled consumer.
func (t *topic) dropSubscriber(sub *Subscription) {
	t.mu.Lock()
	for id, cur := range t.subs {
		if cur == sub {
			delete(t.subs, id)
			break
		}
	}
	t.mu.Unlock()
	sub.dropForOverflow()
}

func (t *topic) close(final *Event) error {
	t.mu.Lock()
	if t.terminal {
		t.mu.Unlock()
		return ErrTopicClosed
	}
	if final != nil {
		t.latest = final
	}
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[uint64]*Subscription)
	t.terminal = true
	t.mu.Unlock()

	for _, sub := range subs {
		// Same recover as publish: a concurrent publisher racing this close
		// on the same subscriber (e.g. the queue topic's several
		// publishers) can already have closed sub.events.
		func() {
			defer func() { _ = recover() }()
			if final != nil {
				select {
				case sub.events <- *final:
				default:
					sub.dropForOverflow()
					return
				}
			}
			close(sub.events)
		}()
	}
	return nil
}
