package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func (h *WSHub) has(c *wsClient) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[c]
	return ok
}

// eventually polls cond for up to a second.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHubMembership(t *testing.T) {
	hub := startHub(t)
	c := &wsClient{send: make(chan []byte, 4)}

	hub.register <- c
	eventually(t, func() bool { return hub.has(c) }, "client not registered")

	hub.unregister <- c
	eventually(t, func() bool { return !hub.has(c) }, "client not unregistered")
	if _, open := <-c.send; open {
		t.Error("send channel left open after unregister")
	}

	// Unregistering a stranger must not close its channel.
	stranger := &wsClient{send: make(chan []byte, 1)}
	hub.unregister <- stranger
	other := &wsClient{send: make(chan []byte, 1)}
	hub.register <- other // round trip through the loop
	eventually(t, func() bool { return hub.has(other) }, "client not registered")
	select {
	case stranger.send <- []byte("x"):
	default:
		t.Error("stranger channel closed")
	}
}

func TestWSHubFanOutAndEviction(t *testing.T) {
	hub := startHub(t)
	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 8)}
	hub.register <- slow
	hub.register <- fast
	eventually(t, func() bool { return hub.has(slow) && hub.has(fast) }, "clients not registered")

	hub.Broadcast(map[string]string{"type": "first"})
	hub.Broadcast(map[string]string{"type": "second"})
	eventually(t, func() bool { return !hub.has(slow) }, "slow client not evicted")

	if !hub.has(fast) {
		t.Fatal("fast client evicted")
	}
	for _, want := range []string{"first", "second"} {
		var m map[string]string
		if err := json.Unmarshal(<-fast.send, &m); err != nil {
			t.Fatal(err)
		}
		if m["type"] != want {
			t.Errorf("got %q, want %q", m["type"], want)
		}
	}
}

func TestWSHubBroadcastNeverBlocks(t *testing.T) {
	hub := NewWSHub(testLogger()) // not running, so the queue fills up
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Broadcast(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
}

func TestWSHubStop(t *testing.T) {
	hub := NewWSHub(testLogger())
	finished := make(chan struct{})
	go func() {
		hub.Run()
		close(finished)
	}()

	c := &wsClient{send: make(chan []byte, 1)}
	hub.register <- c
	hub.Stop()
	hub.Stop()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if _, open := <-c.send; open {
		t.Error("client channel open after Stop")
	}
}

func TestWSSnapshotEventsAndCommands(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() map[string]any {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	snap := read()
	if snap["type"] != "snapshot" {
		t.Fatalf("first message = %v", snap)
	}
	if devices, _ := snap["data"].([]any); len(devices) != 2 {
		t.Errorf("snapshot devices = %v", snap["data"])
	}

	cmd := `{"device_id":"x10-A1","property":"on","value":true}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		t.Fatal(err)
	}

	var sawEvent, sawResult bool
	for !(sawEvent && sawResult) {
		m := read()
		switch m["type"] {
		case "property_changed":
			sawEvent = true
		case "result":
			sawResult = true
			if m["error"] != nil || m["value"] != true {
				t.Errorf("result = %v", m)
			}
		}
	}
	if n := len(env.ctrl.Commands()); n != 1 {
		t.Errorf("sent %d commands, want 1", n)
	}
}
