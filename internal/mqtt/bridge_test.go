//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"testing"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/x10"
)

func deviceInfo(t *testing.T, addr, module string) (adapter.DeviceInfo, *adapter.Template) {
	t.Helper()
	a, err := x10.ParseAddress(addr)
	if err != nil {
		t.Fatal(err)
	}
	tmpl, err := adapter.LookupTemplate(module)
	if err != nil {
		t.Fatal(err)
	}
	return adapter.DeviceInfo{
		ID:         a.DeviceID(),
		Name:       "X10 " + tmpl.Name + " (" + addr + ")",
		Address:    a,
		ModuleType: module,
		Type:       tmpl.Type,
	}, tmpl
}

func TestDiscoveryLampModule(t *testing.T) {
	info, tmpl := deviceInfo(t, "A1", adapter.ModuleLamp)
	msg := buildDiscovery(info, tmpl, "x10")

	if msg.Topic != "homeassistant/light/x10_A1/light/config" {
		t.Errorf("topic = %q", msg.Topic)
	}
	var payload haDiscovery
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Name != "X10 Lamp Module (A1)" {
		t.Errorf("name = %q", payload.Name)
	}
	if payload.UniqueID != "x10_A1_light" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.StateTopic != "x10/x10-A1" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.CommandTopic != "x10/x10-A1/set" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.AvailabilityTopic != "x10/bridge/state" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.BrightnessScale != 100 || payload.Schema != "json" {
		t.Errorf("brightness_scale = %d schema = %q", payload.BrightnessScale, payload.Schema)
	}
	if payload.Device.Manufacturer != "X10" || payload.Device.Model != "Lamp Module" {
		t.Errorf("device = %+v", payload.Device)
	}
}

func TestDiscoveryComponents(t *testing.T) {
	tests := []struct {
		module    string
		wantTopic string
		wantCmd   bool
	}{
		{adapter.ModuleAppliance, "homeassistant/switch/x10_B2/switch/config", true},
		{adapter.ModuleSwitch, "homeassistant/switch/x10_B2/switch/config", true},
		{adapter.ModuleDimmer, "homeassistant/light/x10_B2/light/config", true},
		{adapter.ModuleSensor, "homeassistant/binary_sensor/x10_B2/binary_sensor/config", false},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			info, tmpl := deviceInfo(t, "B2", tt.module)
			msg := buildDiscovery(info, tmpl, "x10")
			if msg.Topic != tt.wantTopic {
				t.Errorf("topic = %q, want %q", msg.Topic, tt.wantTopic)
			}
			var payload haDiscovery
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				t.Fatal(err)
			}
			if (payload.CommandTopic != "") != tt.wantCmd {
				t.Errorf("command_topic = %q", payload.CommandTopic)
			}
			if commandable(tmpl) != tt.wantCmd {
				t.Errorf("commandable = %v", commandable(tmpl))
			}
		})
	}
}

func TestRemoveDiscovery(t *testing.T) {
	msgs := buildRemoveDiscovery("x10-C3")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if len(m.Payload) != 0 {
			t.Errorf("%s: payload should be empty", m.Topic)
		}
	}
}

func TestStatePayload(t *testing.T) {
	got := statePayload(map[string]any{"on": true, "level": 40.0})
	if got["state"] != "ON" || got["brightness"] != 40.0 {
		t.Errorf("dimmable state = %v", got)
	}
	got = statePayload(map[string]any{"on": false})
	if got["state"] != "OFF" {
		t.Errorf("switch state = %v", got)
	}
	if _, ok := got["brightness"]; ok {
		t.Error("switch state should not carry brightness")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []propertyChange
		wantErr bool
	}{
		{"plain on", "ON", []propertyChange{{"on", true}}, false},
		{"plain off lower", "off", []propertyChange{{"on", false}}, false},
		{"json state", `{"state":"ON"}`, []propertyChange{{"on", true}}, false},
		{"json state and brightness", `{"state":"ON","brightness":40}`,
			[]propertyChange{{"on", true}, {"level", 40.0}}, false},
		{"brightness only", `{"brightness":5}`, []propertyChange{{"level", 5.0}}, false},
		{"toggle unsupported", `{"state":"TOGGLE"}`, nil, true},
		{"empty object", `{}`, nil, true},
		{"garbage", `not json`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("change %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
