package session

import (
	"testing"

	"github.com/nostrelay/relay/internal/nostr"
)

func TestNew_StartsOpen(t *testing.T) {
	s := New("sess1", nil)
	if s.State() != Open {
		t.Fatalf("state = %v, want Open", s.State())
	}
}

func TestEnqueue_DeliversInOrder(t *testing.T) {
	s := New("sess1", nil)
	s.Enqueue([]byte("a"))
	s.Enqueue([]byte("b"))
	s.Enqueue([]byte("c"))

	for _, want := range []string{"a", "b", "c"} {
		got := <-s.Outbound()
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestEnqueue_DropsWhenQueueFull(t *testing.T) {
	s := New("sess1", nil)
	for i := 0; i < outboundQueueSize+10; i++ {
		s.Enqueue([]byte("x"))
	}
	if len(s.outbound) != outboundQueueSize {
		t.Fatalf("queue len = %d, want %d", len(s.outbound), outboundQueueSize)
	}
}

func TestEnqueue_NoOpAfterDrain(t *testing.T) {
	s := New("sess1", nil)
	s.Drain()
	s.Enqueue([]byte("a"))
	select {
	case <-s.Outbound():
		t.Fatal("expected no frame after Drain")
	default:
	}
}

func TestSubscriptions_AddRemove(t *testing.T) {
	s := New("sess1", nil)
	filters := []nostr.Filter{{Kinds: []int{1}}}
	s.AddSubscription("sub1", filters)

	subs := s.Subscriptions()
	if len(subs["sub1"]) != 1 {
		t.Fatalf("subs[sub1] = %v, want 1 filter", subs["sub1"])
	}

	s.RemoveSubscription("sub1")
	if _, ok := s.Subscriptions()["sub1"]; ok {
		t.Fatal("expected subscription removed")
	}

	// Removing an unknown id is a no-op, not an error.
	s.RemoveSubscription("unknown")
}

func TestSubscriptions_ReplaceOnSameID(t *testing.T) {
	s := New("sess1", nil)
	s.AddSubscription("sub1", []nostr.Filter{{Kinds: []int{1}}})
	s.AddSubscription("sub1", []nostr.Filter{{Kinds: []int{2}}, {Kinds: []int{3}}})

	subs := s.Subscriptions()
	if len(subs["sub1"]) != 2 {
		t.Fatalf("subs[sub1] = %d filters, want 2", len(subs["sub1"]))
	}
}

func TestObservedPubKeys(t *testing.T) {
	s := New("sess1", nil)
	s.ObservePubKey("abc")
	s.ObservePubKey("abc")
	s.ObservePubKey("def")

	got := s.ObservedPubKeys()
	if len(got) != 2 {
		t.Fatalf("observed = %v, want 2 unique keys", got)
	}
}

func TestClose_StateTransition(t *testing.T) {
	s := New("sess1", nil)
	s.Close()
	if s.State() != Closed {
		t.Fatalf("state = %v, want Closed", s.State())
	}
	// Closing twice must not panic (double close of the channel).
	s.Close()
}

func TestEnqueue_RacingCloseNeverPanics(t *testing.T) {
	s := New("sess1", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Enqueue([]byte("x"))
		}
	}()

	s.Close()
	<-done
}

func TestDrain_ThenClose(t *testing.T) {
	s := New("sess1", nil)
	s.Drain()
	if s.State() != Draining {
		t.Fatalf("state = %v, want Draining", s.State())
	}
	s.Close()
	if s.State() != Closed {
		t.Fatalf("state = %v, want Closed", s.State())
	}
}
