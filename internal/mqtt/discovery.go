//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"x10-go-home/internal/adapter"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/x10_A1/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// nodeID returns the identifier used in HA discovery topics, e.g. "x10_A1".
func nodeID(deviceID string) string {
	return strings.ReplaceAll(deviceID, "-", "_")
}

// component returns the HA component type for a template.
func component(tmpl *adapter.Template) string {
	switch tmpl.Type {
	case adapter.CapDimmableLight, adapter.CapMultiLevelSwitch:
		return "light"
	case adapter.CapBinarySensor:
		return "binary_sensor"
	default:
		return "switch"
	}
}

// commandable reports whether HA may send commands to devices of tmpl.
func commandable(tmpl *adapter.Template) bool {
	return tmpl.Type != adapter.CapBinarySensor
}

// buildDiscovery generates the HA discovery message for a device.
func buildDiscovery(info adapter.DeviceInfo, tmpl *adapter.Template, prefix string) discoveryMsg {
	node := nodeID(info.ID)
	comp := component(tmpl)
	stateTopic := prefix + "/" + info.ID
	payload := haDiscovery{
		Name:              info.Name,
		UniqueID:          node + "_" + comp,
		StateTopic:        stateTopic,
		AvailabilityTopic: prefix + "/bridge/state",
		Device: haDevice{
			Identifiers:  []string{node},
			Manufacturer: "X10",
			Model:        tmpl.Name,
			Name:         info.Name,
		},
	}

	switch comp {
	case "light":
		payload.CommandTopic = stateTopic + "/set"
		payload.Schema = "json"
		payload.SupportedColorModes = []string{"brightness"}
		payload.BrightnessScale = 100
	case "switch":
		payload.CommandTopic = stateTopic + "/set"
		payload.ValueTemplate = "{{ value_json.state }}"
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case "binary_sensor":
		payload.ValueTemplate = "{{ value_json.state }}"
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	}

	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", comp, node, comp),
		Payload: mustJSON(payload),
	}
}

// buildRemoveDiscovery generates empty retained messages to remove a device from HA.
func buildRemoveDiscovery(deviceID string) []discoveryMsg {
	node := nodeID(deviceID)
	var msgs []discoveryMsg
	for _, comp := range []string{"light", "switch", "binary_sensor"} {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/%s/%s/%s/config", comp, node, comp),
		})
	}
	return msgs
}
