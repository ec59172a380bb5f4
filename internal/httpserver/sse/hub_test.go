package sse

import "testing"

func TestHubCoalesces(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()

	h.Publish()
	h.Publish()

	<-ch
	select {
	case <-ch:
		t.Error("two publishes should coalesce into one signal")
	default:
	}

	cancel()
	cancel()
	if h.Clients() != 0 {
		t.Errorf("Clients() = %d after cancel", h.Clients())
	}
	h.Publish()
}

func TestHubCloseEndsStreams(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Close()
	h.Close()
	if _, ok := <-ch; ok {
		t.Error("client channel should be closed")
	}
	if h.Clients() != 0 {
		t.Errorf("Clients() = %d after Close", h.Clients())
	}

	late, lateCancel := h.Subscribe()
	lateCancel()
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed hub should return a closed channel")
	}
	h.Publish()
}
