package history

import (
	"log/slog"
	"time"

	"x10-go-home/internal/adapter"
)

const (
	measurementProperty = "x10_property"
	measurementStatus   = "x10_status"
)

// Recorder turns adapter events into points.
type Recorder struct {
	w      Writer
	logger *slog.Logger
	now    func() time.Time
	unsub  func()
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w Writer, logger *slog.Logger) *Recorder {
	return &Recorder{w: w, logger: logger.With("component", "history"), now: time.Now}
}

// Start subscribes to the adapter's events.
func (r *Recorder) Start(events *adapter.EventBus) {
	r.unsub = events.OnAll(r.handle)
	r.logger.Info("history recorder started")
}

// Stop unsubscribes and closes the writer.
func (r *Recorder) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	if err := r.w.Close(); err != nil {
		r.logger.Warn("close history writer", "err", err)
	}
}

func (r *Recorder) handle(ev adapter.Event) {
	data, ok := ev.Data.(map[string]any)
	if !ok {
		return
	}
	var points []Point
	switch ev.Type {
	case adapter.EventPropertyChanged:
		points = propertyPoints(data, r.now())
	case adapter.EventUnitStatus:
		points = statusPoints(data, r.now())
	}
	for _, p := range points {
		r.w.Write(p)
	}
}

// propertyPoints maps a property change to one x10_property point. Booleans
// are stored as 0/1 so every value shares the numeric field type.
func propertyPoints(data map[string]any, ts time.Time) []Point {
	id, _ := data["device_id"].(string)
	prop, _ := data["property"].(string)
	value, ok := numeric(data["value"])
	if id == "" || prop == "" || !ok {
		return nil
	}
	return []Point{{
		Measurement: measurementProperty,
		Tags:        map[string]string{"device_id": id, "property": prop},
		Fields:      map[string]any{"value": value},
		Time:        ts,
	}}
}

// statusPoints emits one x10_status point per reported address, or a single
// house-wide point for functions without addresses.
func statusPoints(data map[string]any, ts time.Time) []Point {
	function, _ := data["function"].(string)
	if function == "" {
		return nil
	}
	fields := map[string]any{"count": 1}
	if v, ok := numeric(data["level"]); ok {
		fields["level"] = v
	}
	if v, ok := numeric(data["on"]); ok {
		fields["on"] = v
	}

	addrs, _ := data["addresses"].([]string)
	if len(addrs) == 0 {
		house, _ := data["house"].(string)
		addrs = []string{house}
	}
	points := make([]Point, 0, len(addrs))
	for _, a := range addrs {
		tags := map[string]string{"address": a, "function": function}
		f := make(map[string]any, len(fields))
		for k, v := range fields {
			f[k] = v
		}
		points = append(points, Point{Measurement: measurementStatus, Tags: tags, Fields: f, Time: ts})
	}
	return points
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
