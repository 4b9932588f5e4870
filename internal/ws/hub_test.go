package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	return hub, cancel
}

func subscriber(hub *Hub, sessionID string) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, 16),
		sessionID: sessionID,
	}
}

func waitForEvent(t *testing.T, ch <-chan []byte) Event {
	t.Helper()
	select {
	case data := <-ch:
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("failed to decode event %q: %v", data, err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub()

	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}
	if hub.notify == nil || hub.register == nil || hub.unregister == nil || hub.done == nil {
		t.Error("expected all channels to be initialized")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		errChan <- hub.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop within timeout")
	}
}

func TestHub_SessionRevokedReachesSubscriber(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	client := subscriber(hub, "s1")
	hub.Register(client)
	time.Sleep(20 * time.Millisecond)

	hub.SessionRevoked(context.Background(), "s1", "refresh_failed")

	event := waitForEvent(t, client.send)
	if event.Type != EventSessionRevoked {
		t.Errorf("expected %q event, got %q", EventSessionRevoked, event.Type)
	}
	if event.Reason != "refresh_failed" {
		t.Errorf("expected reason refresh_failed, got %q", event.Reason)
	}
}

func TestHub_RevocationIsScopedToSession(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	victim := subscriber(hub, "s1")
	bystander := subscriber(hub, "s2")
	hub.Register(victim)
	hub.Register(bystander)
	time.Sleep(20 * time.Millisecond)

	hub.SessionRevoked(context.Background(), "s1", "refresh_failed")
	time.Sleep(50 * time.Millisecond)

	select {
	case data, ok := <-bystander.send:
		if ok {
			t.Errorf("bystander session received unexpected event: %s", data)
		} else {
			t.Error("bystander send channel was closed")
		}
	default:
	}
}

func TestHub_MultipleTabsSameSession(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	tab1 := subscriber(hub, "s1")
	tab2 := subscriber(hub, "s1")
	hub.Register(tab1)
	hub.Register(tab2)
	time.Sleep(20 * time.Millisecond)

	hub.NotifyLogout("s1")

	for _, tab := range []*Client{tab1, tab2} {
		event := waitForEvent(t, tab.send)
		if event.Type != EventLogout {
			t.Errorf("expected %q event, got %q", EventLogout, event.Type)
		}
	}
}

func TestHub_RevokedSessionSubscribersAreDropped(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	client := subscriber(hub, "s1")
	hub.Register(client)
	time.Sleep(20 * time.Millisecond)

	hub.SessionRevoked(context.Background(), "s1", "refresh_failed")
	waitForEvent(t, client.send)

	// The channel closes once the revocation has been delivered
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel to be closed after revocation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	client := subscriber(hub, "s1")
	hub.Register(client)
	time.Sleep(20 * time.Millisecond)

	hub.Unregister(client)
	time.Sleep(20 * time.Millisecond)

	hub.NotifyLogout("s1")
	time.Sleep(50 * time.Millisecond)

	select {
	case data, ok := <-client.send:
		if ok {
			t.Errorf("unregistered client received event: %s", data)
		}
	default:
	}
}

func TestHub_GracefulShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	client := subscriber(hub, "s1")
	hub.Register(client)
	time.Sleep(20 * time.Millisecond)

	cancel()
	time.Sleep(100 * time.Millisecond)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel to be closed on shutdown")
		}
	default:
		t.Error("send channel should be closed and readable")
	}
}
