package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeTaskFinished, Data: "x"})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != TypeTaskFinished {
				t.Fatalf("subscriber %d got %q, want %q", i, ev.Type, TypeTaskFinished)
			}
			if ev.Time.IsZero() {
				t.Fatalf("subscriber %d got zero event time", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // dropped, must not block

	ev := <-ch
	if ev.Type != "one" {
		t.Fatalf("got %q, want one", ev.Type)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q", ev.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}

func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish(Event{Type: TypeTaskFinished})
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		ch, unsub := b.Subscribe(1)
		if i%2 == 0 {
			select {
			case <-ch:
			case <-time.After(10 * time.Millisecond):
			}
		}
		unsub()
		if _, ok := <-drain(ch); ok {
			t.Fatal("channel still open after unsubscribe")
		}
	}
	close(stop)
	wg.Wait()
}

// drain empties buffered events and returns the channel for a final receive.
func drain(ch <-chan Event) <-chan Event {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return ch
			}
		default:
			return ch
		}
	}
}
