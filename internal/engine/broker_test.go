package engine_test

import (
	"testing"
	"time"

	"github.com/seantiz/doss/internal/engine"
)

func progress(name string) engine.ProgressEvent {
	return engine.ProgressEvent{Name: name, Kind: engine.ProgressExecuted, Time: time.Now()}
}

func TestProgressBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewProgressBroker()
	b.Open("inv1")
	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	names := []string{"step-0", "step-1", "step-2"}
	for _, n := range names {
		b.Publish("inv1", progress(n))
	}
	b.Close("inv1")

	var got []string
	for ev := range ch {
		got = append(got, ev.Name)
	}

	if len(got) != len(names) {
		t.Fatalf("got %d events, want %d", len(got), len(names))
	}
	for i, n := range got {
		if n != names[i] {
			t.Errorf("event[%d] = %q, want %q", i, n, names[i])
		}
	}
}

func TestProgressBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewProgressBroker()
	ch1, unsub1 := b.Subscribe("inv1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("inv1")
	defer unsub2()

	b.Publish("inv1", progress("step-0"))
	b.Close("inv1")

	for i, ch := range []<-chan engine.ProgressEvent{ch1, ch2} {
		var got []string
		for ev := range ch {
			got = append(got, ev.Name)
		}
		if len(got) != 1 || got[0] != "step-0" {
			t.Errorf("subscriber %d got %v, want [step-0]", i+1, got)
		}
	}
}

func TestProgressBrokerReopen(t *testing.T) {
	b := engine.NewProgressBroker()
	b.Open("inv1")
	b.Close("inv1")
	b.Open("inv1")

	ch, unsub := b.Subscribe("inv1")
	defer unsub()
	b.Publish("inv1", progress("step-1"))
	b.Close("inv1")

	ev, ok := <-ch
	if !ok || ev.Name != "step-1" {
		t.Errorf("after reopen got %+v (ok=%v), want step-1", ev, ok)
	}
}

func TestProgressBrokerUnsubscribe(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("inv1")
	unsub()

	b.Publish("inv1", progress("step-0"))

	select {
	case ev := <-ch:
		t.Errorf("unsubscribed channel received %+v", ev)
	default:
	}
}

func TestProgressBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	// Publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish("inv1", progress("step"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}
	if len(ch) != 64 {
		t.Errorf("buffered events = %d, want 64", len(ch))
	}
}
