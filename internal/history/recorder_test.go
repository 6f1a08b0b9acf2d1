package history

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"x10-go-home/internal/adapter"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []Point
	closed bool
}

func (f *fakeWriter) Write(p Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}
func (f *fakeWriter) Flush() {}
func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestRecorder() (*Recorder, *fakeWriter, *adapter.EventBus) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := &fakeWriter{}
	r := NewRecorder(w, logger)
	ts := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return ts }
	bus := adapter.NewEventBus(logger)
	r.Start(bus)
	return r, w, bus
}

func TestRecorderPropertyChanged(t *testing.T) {
	r, w, bus := newTestRecorder()

	bus.Emit(adapter.Event{Type: adapter.EventPropertyChanged, Data: map[string]any{
		"device_id": "x10-A1", "property": "level", "value": 40.0,
	}})
	bus.Emit(adapter.Event{Type: adapter.EventPropertyChanged, Data: map[string]any{
		"device_id": "x10-A1", "property": "on", "value": true,
	}})
	bus.Emit(adapter.Event{Type: adapter.EventDeviceAdded, Data: map[string]any{"device_id": "x10-A1"}})

	if len(w.points) != 2 {
		t.Fatalf("got %d points, want 2", len(w.points))
	}
	p := w.points[0]
	if p.Measurement != "x10_property" || p.Tags["device_id"] != "x10-A1" || p.Tags["property"] != "level" {
		t.Errorf("point = %+v", p)
	}
	if p.Fields["value"] != 40.0 {
		t.Errorf("value = %v", p.Fields["value"])
	}
	if w.points[1].Fields["value"] != 1.0 {
		t.Errorf("bool value = %v, want 1", w.points[1].Fields["value"])
	}

	r.Stop()
	if !w.closed {
		t.Error("writer not closed")
	}
	bus.Emit(adapter.Event{Type: adapter.EventPropertyChanged, Data: map[string]any{
		"device_id": "x10-A1", "property": "on", "value": false,
	}})
	if len(w.points) != 2 {
		t.Error("recorded after Stop")
	}
}

func TestStatusPoints(t *testing.T) {
	ts := time.Unix(0, 0)
	tests := []struct {
		name      string
		data      map[string]any
		wantAddrs []string
		wantLevel bool
	}{
		{"per address", map[string]any{
			"house": "A", "addresses": []string{"A1", "A2"}, "function": "dim", "level": 50.0,
		}, []string{"A1", "A2"}, true},
		{"house wide", map[string]any{
			"house": "C", "addresses": []string{}, "function": "all_lights_on", "on": true,
		}, []string{"C"}, false},
		{"no function", map[string]any{"house": "A"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := statusPoints(tt.data, ts)
			if len(points) != len(tt.wantAddrs) {
				t.Fatalf("got %d points, want %d", len(points), len(tt.wantAddrs))
			}
			for i, p := range points {
				if p.Measurement != "x10_status" || p.Tags["address"] != tt.wantAddrs[i] {
					t.Errorf("point %d = %+v", i, p)
				}
				if _, ok := p.Fields["level"]; ok != tt.wantLevel {
					t.Errorf("point %d level present = %v", i, ok)
				}
			}
		})
	}
}

func TestConnectDisabled(t *testing.T) {
	if _, err := Connect(Config{}); err != ErrDisabled {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}
