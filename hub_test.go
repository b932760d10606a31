package main

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestHubRegisterUnregister(t *testing.T) {
	h := NewHub(zap.NewNop())

	s1 := h.Register("a")
	s2 := h.Register("b")
	if h.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.Count())
	}

	h.Unregister(s1)
	if h.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unregister, got %d", h.Count())
	}
	if _, ok := <-s1.send; ok {
		t.Fatal("unregistered subscriber channel should be closed")
	}

	h.Unregister(s2)
	h.Unregister(s2) // should not panic
	if h.Count() != 0 {
		t.Fatal("expected 0 subscribers after full unregister")
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop())
	s1 := h.Register("a")
	s2 := h.Register("b")

	h.Broadcast([]byte("hello"))

	for _, s := range []*subscriber{s1, s2} {
		select {
		case msg := <-s.send:
			if string(msg) != "hello" {
				t.Fatalf("%s expected 'hello', got %q", s.id, msg)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s did not receive message", s.id)
		}
	}
}

func TestHubBroadcastExceptAndSendTo(t *testing.T) {
	h := NewHub(zap.NewNop())
	s1 := h.Register("a")
	s2 := h.Register("b")

	h.BroadcastExcept("a", []byte("cursor"))
	h.SendTo("a", []byte("private"))

	if msg := <-s1.send; string(msg) != "private" {
		t.Fatalf("a expected only 'private', got %q", msg)
	}
	if msg := <-s2.send; string(msg) != "cursor" {
		t.Fatalf("b expected 'cursor', got %q", msg)
	}
	select {
	case msg := <-s2.send:
		t.Fatalf("b should not receive %q", msg)
	default:
	}

	h.SendTo("nobody", []byte("lost")) // should not panic
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	h := NewHub(zap.NewNop())
	slow := h.Register("slow")
	fast := h.Register("fast")

	received := 0
	for i := 0; i < sendBuffer+44; i++ {
		h.Broadcast([]byte("x"))
		<-fast.send
		received++
	}

	if received != sendBuffer+44 {
		t.Fatalf("fast subscriber should get every message, got %d", received)
	}
	if h.Count() != 1 {
		t.Fatalf("slow subscriber should be evicted, %d subscribers left", h.Count())
	}

	// The buffered messages are still flushed, then the channel is closed so
	// the connection hangs up.
	n := 0
	for range slow.send {
		n++
	}
	if n != sendBuffer {
		t.Fatalf("expected %d buffered messages before close, got %d", sendBuffer, n)
	}

	// Unregistering an evicted subscriber is a no-op.
	h.Unregister(slow)
	if h.Count() != 1 {
		t.Fatalf("expected fast subscriber to stay, got %d", h.Count())
	}
}

func TestHubSendToEvictsSlowSubscriber(t *testing.T) {
	h := NewHub(zap.NewNop())
	s := h.Register("a")
	for i := 0; i <= sendBuffer; i++ {
		h.SendTo("a", []byte("x"))
	}
	if h.Count() != 0 {
		t.Fatalf("expected eviction, got %d subscribers", h.Count())
	}
	h.SendTo("a", []byte("late")) // should not panic on the closed channel
	if len(s.send) != sendBuffer {
		t.Fatalf("expected %d buffered messages, got %d", sendBuffer, len(s.send))
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	h := NewHub(zap.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := h.Register(uuid.NewString())
			h.Broadcast([]byte("msg"))
			h.Unregister(s)
		}()
	}
	wg.Wait()

	if h.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", h.Count())
	}
}

func TestHubOrderIsPreserved(t *testing.T) {
	h := NewHub(zap.NewNop())
	s := h.Register("a")

	for _, m := range []string{"1", "2", "3"} {
		h.Broadcast([]byte(m))
	}
	for _, want := range []string{"1", "2", "3"} {
		if got := string(<-s.send); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
