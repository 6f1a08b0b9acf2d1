//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"x10-go-home/internal/adapter"
	"x10-go-home/internal/translator"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Host is the adapter surface the bridge needs.
type Host interface {
	Devices() []*adapter.Device
	Device(id string) (*adapter.Device, error)
	SetProperty(ctx context.Context, deviceID, name string, value any) (any, error)
	Events() *adapter.EventBus
}

// Bridge mirrors X10 device state to MQTT with HA autodiscovery and accepts
// commands on <prefix>/<device-id>/set.
type Bridge struct {
	client pahomqtt.Client
	host   Host
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(host Host, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		host:   host,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("x10-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			for _, dev := range b.host.Devices() {
				b.announceDevice(dev)
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to adapter events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.host.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event adapter.Event) {
	switch event.Type {
	case adapter.EventDeviceAdded:
		if dev := b.eventDevice(event); dev != nil {
			b.announceDevice(dev)
		}
	case adapter.EventPropertyChanged:
		if dev := b.eventDevice(event); dev != nil {
			b.publishState(dev)
		}
	case adapter.EventUnitStatus:
		b.publish(b.prefix+"/status", mustJSON(event.Data), false)
	}
}

func (b *Bridge) eventDevice(event adapter.Event) *adapter.Device {
	data, ok := event.Data.(map[string]any)
	if !ok {
		return nil
	}
	id, _ := data["device_id"].(string)
	if id == "" {
		return nil
	}
	dev, err := b.host.Device(id)
	if err != nil {
		return nil
	}
	return dev
}

// announceDevice publishes discovery, current state and subscribes to the
// command topic.
func (b *Bridge) announceDevice(dev *adapter.Device) {
	tmpl := dev.Template()
	current := component(tmpl)
	for _, msg := range buildRemoveDiscovery(dev.ID()) {
		if !strings.HasPrefix(msg.Topic, "homeassistant/"+current+"/") {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}
	msg := buildDiscovery(dev.Info(), tmpl, b.prefix)
	b.publish(msg.Topic, msg.Payload, true)
	b.publishState(dev)

	if commandable(tmpl) {
		id := dev.ID()
		b.client.Subscribe(b.prefix+"/"+id+"/set", 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
			b.handleCommand(id, m.Payload())
		})
	}
	b.logger.Debug("published HA discovery", "id", dev.ID(), "component", current)
}

func (b *Bridge) publishState(dev *adapter.Device) {
	payload := mustJSON(statePayload(dev.Properties()))
	b.publish(b.prefix+"/"+dev.ID(), payload, true)
}

func (b *Bridge) handleCommand(id string, payload []byte) {
	changes, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command", "id", id, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	for _, c := range changes {
		if _, err := b.host.SetProperty(ctx, id, c.name, c.value); err != nil {
			b.logger.Warn("command failed", "id", id, "property", c.name, "err", err)
		}
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// statePayload converts cached properties to the HA state document.
func statePayload(props map[string]any) map[string]any {
	state := make(map[string]any, 2)
	if on, ok := props[translator.PropOn].(bool); ok {
		state["state"] = "OFF"
		if on {
			state["state"] = "ON"
		}
	}
	if level, ok := props[translator.PropLevel]; ok {
		state["brightness"] = level
	}
	return state
}

type propertyChange struct {
	name  string
	value any
}

// parseCommand accepts the plain "ON"/"OFF" payload of HA switches and the
// JSON schema used by HA lights. A brightness is applied after the state.
func parseCommand(payload []byte) ([]propertyChange, error) {
	raw := strings.TrimSpace(string(payload))
	switch strings.ToUpper(raw) {
	case "ON":
		return []propertyChange{{translator.PropOn, true}}, nil
	case "OFF":
		return []propertyChange{{translator.PropOn, false}}, nil
	}

	var cmd map[string]any
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	var changes []propertyChange
	if state, ok := cmd["state"].(string); ok {
		switch strings.ToUpper(state) {
		case "ON":
			changes = append(changes, propertyChange{translator.PropOn, true})
		case "OFF":
			changes = append(changes, propertyChange{translator.PropOn, false})
		default:
			return nil, fmt.Errorf("unsupported state %q", state)
		}
	}
	if brightness, ok := cmd["brightness"].(float64); ok {
		changes = append(changes, propertyChange{translator.PropLevel, brightness})
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("command has neither state nor brightness")
	}
	return changes, nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
